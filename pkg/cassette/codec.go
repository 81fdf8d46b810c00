/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cassette

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxMessageSize bounds a single frame so a corrupt size prefix cannot
// trigger an oversized allocation.
const maxMessageSize = 256 << 20

// Encode writes c to dest as a gzip compressed stream.
func Encode(dest io.Writer, c *Cassette) error {
	gzWriter := gzip.NewWriter(dest)

	header, err := c.header()
	if err != nil {
		return errors.WithMessage(err, "could not build header")
	}

	if err := writeSizePrefixedProto(gzWriter, header); err != nil {
		return errors.WithMessage(err, "could not write header")
	}

	for j := range c.Interactions {
		msg, err := c.Interactions[j].ToProto()
		if err != nil {
			return err
		}

		if err := writeSizePrefixedProto(gzWriter, msg); err != nil {
			return errors.WithMessagef(err, "could not write interaction %d", j)
		}
	}

	return gzWriter.Close()
}

// Marshal encodes c into a byte slice.
func Marshal(c *Cassette) ([]byte, error) {
	buffer := &bytes.Buffer{}
	if err := Encode(buffer, c); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Decode reads a complete cassette from source.
func Decode(source io.Reader) (*Cassette, error) {
	reader, err := NewReader(source)
	if err != nil {
		return nil, err
	}

	result := New(reader.Name())
	for {
		i, err := reader.ReadInteraction()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result.Add(i)
	}
}

func Unmarshal(data []byte) (*Cassette, error) {
	return Decode(bytes.NewReader(data))
}

func writeSizePrefixedProto(dest io.Writer, msg proto.Message) error {
	msgBytes, err := proto.Marshal(msg)
	if err != nil {
		return errors.WithMessage(err, "could not marshal")
	}

	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutVarint(lenBuf, int64(len(msgBytes)))
	if _, err = dest.Write(lenBuf[:n]); err != nil {
		return errors.WithMessage(err, "could not write length prefix")
	}

	if _, err = dest.Write(msgBytes); err != nil {
		return errors.WithMessage(err, "could not write message")
	}

	return nil
}

// Reader streams interactions out of an encoded cassette.
type Reader struct {
	name     string
	buffer   *bytes.Buffer
	gzReader *gzip.Reader
	source   *bufio.Reader
}

func NewReader(source io.Reader) (*Reader, error) {
	gzReader, err := gzip.NewReader(source)
	if err != nil {
		return nil, errors.WithMessage(err, "could not read source as a gzip stream")
	}

	r := &Reader{
		buffer:   &bytes.Buffer{},
		gzReader: gzReader,
		source:   bufio.NewReader(gzReader),
	}

	header := &structpb.Struct{}
	if err := readSizePrefixedProto(r.source, header, r.buffer); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.WithMessage(err, "error reading header")
	}
	r.buffer.Reset()

	fields := header.GetFields()
	if version := int(fields["version"].GetNumberValue()); version != FormatVersion {
		return nil, errors.Errorf("unsupported cassette version %d", version)
	}
	r.name = fields["name"].GetStringValue()

	return r, nil
}

func (r *Reader) Name() string {
	return r.name
}

// ReadInteraction returns io.EOF once the stream is exhausted.
func (r *Reader) ReadInteraction() (Interaction, error) {
	msg := &structpb.Struct{}
	err := readSizePrefixedProto(r.source, msg, r.buffer)
	if err == io.EOF {
		r.gzReader.Close()
		return Interaction{}, err
	}
	if err != nil {
		return Interaction{}, errors.WithMessage(err, "error reading interaction")
	}
	r.buffer.Reset()

	return InteractionFromProto(msg)
}

// ReadProto returns the next raw interaction message, for tools which
// render the wire form.
func (r *Reader) ReadProto() (*structpb.Struct, error) {
	msg := &structpb.Struct{}
	err := readSizePrefixedProto(r.source, msg, r.buffer)
	if err == io.EOF {
		r.gzReader.Close()
		return nil, err
	}
	if err != nil {
		return nil, errors.WithMessage(err, "error reading interaction")
	}
	r.buffer.Reset()

	return msg, nil
}

func readSizePrefixedProto(reader *bufio.Reader, msg proto.Message, buffer *bytes.Buffer) error {
	l, err := binary.ReadVarint(reader)
	if err != nil {
		if err == io.EOF {
			return err
		}
		return errors.WithMessage(err, "could not read size prefix")
	}

	if l < 0 || l > maxMessageSize {
		return errors.Errorf("invalid message length %d", l)
	}

	buffer.Grow(int(l))

	if _, err := io.CopyN(buffer, reader, l); err != nil {
		return errors.WithMessage(err, "could not read message")
	}

	if err := proto.Unmarshal(buffer.Bytes(), msg); err != nil {
		return errors.WithMessage(err, "could not unmarshal message")
	}

	return nil
}
