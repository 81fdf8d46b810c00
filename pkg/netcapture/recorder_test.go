/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package netcapture_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/hyperledger-labs/testscope/pkg/cassette"
	"github.com/hyperledger-labs/testscope/pkg/netcapture"
	"github.com/hyperledger-labs/testscope/pkg/override"
)

func get(url string) (int, string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), err
}

var _ = Describe("Recorder", func() {
	var (
		dir      string
		registry *override.Registry
		store    *cassette.FileStore
		previous http.RoundTripper
	)

	newRecorder := func(cfg netcapture.Config) *netcapture.Recorder {
		cfg.Folder = dir
		recorder, err := netcapture.New(cfg, netcapture.RegistryOpt(registry))
		Expect(err).NotTo(HaveOccurred())
		return recorder
	}

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "netcapture")
		Expect(err).NotTo(HaveOccurred())
		registry = override.NewRegistry()
		store = cassette.NewFileStore(dir)
		previous = http.DefaultTransport
	})

	AfterEach(func() {
		Expect(http.DefaultTransport).To(BeIdenticalTo(previous))
		os.RemoveAll(dir)
	})

	Describe("replaying", func() {
		BeforeEach(func() {
			c := cassette.New("users_recording")
			c.Add(cassette.Interaction{
				Method:         "GET",
				URL:            "http://users.invalid/1",
				Status:         200,
				ResponseHeader: http.Header{"Content-Type": []string{"text/plain"}},
				ResponseBody:   []byte("alice"),
			})
			c.Add(cassette.Interaction{
				Method:       "GET",
				URL:          "http://users.invalid/2",
				Status:       404,
				ResponseBody: []byte("gone"),
			})
			Expect(store.Save(c)).To(Succeed())
		})

		It("answers from the cassette without network access", func() {
			recorder := newRecorder(netcapture.Config{})
			Expect(recorder.Inject(context.Background(), "users_recording")).To(Succeed())
			Expect(http.DefaultTransport).NotTo(BeIdenticalTo(previous))
			Expect(registry.Held(override.Network)).To(BeTrue())

			name, ok := recorder.Active()
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("users_recording"))

			status, body, err := get("http://users.invalid/1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(200))
			Expect(body).To(Equal("alice"))

			status, body, err = get("http://users.invalid/2")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(404))
			Expect(body).To(Equal("gone"))

			Expect(recorder.Release()).To(Succeed())
			Expect(registry.Held(override.Network)).To(BeFalse())
			Expect(recorder.Shutdown()).To(Succeed())
		})

		It("reports interactions which were never requested", func() {
			recorder := newRecorder(netcapture.Config{})
			Expect(recorder.Inject(context.Background(), "users_recording")).To(Succeed())

			_, _, err := get("http://users.invalid/1")
			Expect(err).NotTo(HaveOccurred())

			err = recorder.Release()
			Expect(errors.Cause(err)).To(Equal(netcapture.ErrUnused))
			Expect(err).To(MatchError(ContainSubstring("GET http://users.invalid/2")))
		})

		It("fails unmatched requests in strict mode", func() {
			recorder := newRecorder(netcapture.Config{})
			Expect(recorder.Inject(context.Background(), "users_recording")).To(Succeed())

			_, _, err := get("http://users.invalid/3")
			Expect(err).To(MatchError(ContainSubstring("no recorded interaction")))

			err = recorder.Release()
			Expect(errors.Cause(err)).To(Equal(netcapture.ErrUnmatched))
			Expect(err).To(MatchError(ContainSubstring("GET http://users.invalid/3")))
		})

		It("serves each interaction once", func() {
			recorder := newRecorder(netcapture.Config{Lenient: true})
			Expect(recorder.Inject(context.Background(), "users_recording")).To(Succeed())
			defer recorder.Release()

			_, _, err := get("http://users.invalid/1")
			Expect(err).NotTo(HaveOccurred())

			_, _, err = get("http://users.invalid/1")
			Expect(err).To(HaveOccurred())
		})

		It("treats a missing cassette as empty", func() {
			recorder := newRecorder(netcapture.Config{})
			Expect(recorder.Inject(context.Background(), "unknown")).To(Succeed())
			Expect(recorder.Release()).To(Succeed())
		})

		It("refuses requests once the context is done", func() {
			recorder := newRecorder(netcapture.Config{})
			ctx, cancel := context.WithCancel(context.Background())
			Expect(recorder.Inject(ctx, "users_recording")).To(Succeed())
			defer recorder.Release()

			cancel()
			_, _, err := get("http://users.invalid/1")
			Expect(err).To(MatchError(ContainSubstring("context canceled")))
		})
	})

	Describe("lifecycle errors", func() {
		It("rejects a second injection", func() {
			recorder := newRecorder(netcapture.Config{})
			Expect(recorder.Inject(context.Background(), "a")).To(Succeed())
			defer recorder.Release()

			err := recorder.Inject(context.Background(), "b")
			Expect(errors.Cause(err)).To(Equal(override.ErrAlreadyInstalled))

			other := newRecorder(netcapture.Config{})
			err = other.Inject(context.Background(), "b")
			Expect(errors.Cause(err)).To(Equal(override.ErrAlreadyInstalled))
		})

		It("rejects release without injection", func() {
			recorder := newRecorder(netcapture.Config{})
			err := recorder.Release()
			Expect(errors.Cause(err)).To(Equal(override.ErrNotInstalled))
		})

		It("rejects shutdown while a cassette is active", func() {
			recorder := newRecorder(netcapture.Config{})
			Expect(recorder.Inject(context.Background(), "a")).To(Succeed())
			Expect(recorder.Shutdown()).To(MatchError(ContainSubstring("still active")))
			Expect(recorder.Release()).To(Succeed())
		})

		It("rejects unknown backends", func() {
			_, err := netcapture.New(netcapture.Config{Backend: "s3"})
			Expect(err).To(MatchError(ContainSubstring("s3")))
		})
	})

	Describe("healing", func() {
		var (
			server *httptest.Server
			hits   int32
		)

		BeforeEach(func() {
			hits = 0
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				body, _ := io.ReadAll(r.Body)
				w.Header().Set("X-Trace", "abc")
				w.WriteHeader(http.StatusCreated)
				w.Write(append([]byte("echo:"), body...))
			}))
		})

		AfterEach(func() {
			server.Close()
		})

		It("records upstream responses and persists them on shutdown", func() {
			recorder := newRecorder(netcapture.Config{
				Heal:         true,
				StripHeaders: []string{"Date"},
			})
			Expect(recorder.Inject(context.Background(), "items_recording")).To(Succeed())

			resp, err := http.Post(server.URL+"/items", "text/plain", bytes.NewBufferString("one"))
			Expect(err).NotTo(HaveOccurred())
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(string(body)).To(Equal("echo:one"))

			Expect(recorder.Release()).To(Succeed())
			Expect(store.Path("items_recording")).NotTo(BeAnExistingFile())

			Expect(recorder.Shutdown()).To(Succeed())
			Expect(atomic.LoadInt32(&hits)).To(Equal(int32(1)))

			healed, err := store.Load("items_recording")
			Expect(err).NotTo(HaveOccurred())
			Expect(healed.Interactions).To(HaveLen(1))
			i := healed.Interactions[0]
			Expect(i.Method).To(Equal("POST"))
			Expect(i.URL).To(Equal(server.URL + "/items"))
			Expect(i.RequestBody).To(Equal([]byte("one")))
			Expect(i.Status).To(Equal(http.StatusCreated))
			Expect(i.ResponseBody).To(Equal([]byte("echo:one")))
			Expect(i.ResponseHeader.Get("X-Trace")).To(Equal("abc"))
			Expect(i.ResponseHeader.Get("Date")).To(BeEmpty())

			server.Close()

			replay := newRecorder(netcapture.Config{})
			Expect(replay.Inject(context.Background(), "items_recording")).To(Succeed())
			resp, err = http.Post(server.URL+"/items", "text/plain", bytes.NewBufferString("one"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(replay.Release()).To(Succeed())
		})

		It("drops interactions which are no longer requested", func() {
			c := cassette.New("stale_recording")
			c.Add(cassette.Interaction{Method: "GET", URL: "http://stale.invalid/", Status: 200})
			Expect(store.Save(c)).To(Succeed())

			recorder := newRecorder(netcapture.Config{Heal: true})
			Expect(recorder.Inject(context.Background(), "stale_recording")).To(Succeed())
			status, _, err := get(server.URL + "/fresh")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusCreated))
			Expect(recorder.Release()).To(Succeed())
			Expect(recorder.Shutdown()).To(Succeed())

			healed, err := store.Load("stale_recording")
			Expect(err).NotTo(HaveOccurred())
			Expect(healed.Interactions).To(HaveLen(1))
			Expect(healed.Interactions[0].URL).To(Equal(server.URL + "/fresh"))
		})

		It("keeps the last snapshot when a cassette is healed twice", func() {
			recorder := newRecorder(netcapture.Config{Heal: true, Backend: netcapture.BackendBadger})

			Expect(recorder.Inject(context.Background(), "twice")).To(Succeed())
			_, _, err := get(server.URL + "/first")
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.Release()).To(Succeed())

			Expect(recorder.Inject(context.Background(), "twice")).To(Succeed())
			_, _, err = get(server.URL + "/second")
			Expect(err).NotTo(HaveOccurred())
			Expect(recorder.Release()).To(Succeed())

			Expect(recorder.Shutdown()).To(Succeed())

			badgerStore, err := cassette.OpenBadgerStore(dir)
			Expect(err).NotTo(HaveOccurred())
			defer badgerStore.Close()

			healed, err := badgerStore.Load("twice")
			Expect(err).NotTo(HaveOccurred())
			Expect(healed.Interactions).To(HaveLen(1))
			Expect(healed.Interactions[0].URL).To(Equal(server.URL + "/second"))
		})

		It("does not rewrite cassettes which fully matched", func() {
			c := cassette.New("exact")
			c.Add(cassette.Interaction{Method: "GET", URL: server.URL + "/x", Status: 200, ResponseBody: []byte("recorded")})
			Expect(store.Save(c)).To(Succeed())
			info, err := os.Stat(store.Path("exact"))
			Expect(err).NotTo(HaveOccurred())

			recorder := newRecorder(netcapture.Config{Heal: true})
			Expect(recorder.Inject(context.Background(), "exact")).To(Succeed())
			_, body, err := get(server.URL + "/x")
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(Equal("recorded"))
			Expect(recorder.Release()).To(Succeed())
			Expect(recorder.Shutdown()).To(Succeed())

			Expect(atomic.LoadInt32(&hits)).To(BeZero())
			after, err := os.Stat(store.Path("exact"))
			Expect(err).NotTo(HaveOccurred())
			Expect(after.ModTime()).To(Equal(info.ModTime()))
		})

		It("serves requests issued while an upstream request is in flight", func() {
			gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				status, body, err := get(server.URL + "/backend")
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadGateway)
					return
				}
				w.WriteHeader(status)
				w.Write([]byte("via gateway " + body))
			}))
			defer gateway.Close()

			recorder := newRecorder(netcapture.Config{Heal: true})
			Expect(recorder.Inject(context.Background(), "gateway")).To(Succeed())

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(gateway.URL + "/front")
			Expect(err).NotTo(HaveOccurred())
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(string(body)).To(Equal("via gateway echo:"))

			Expect(recorder.Release()).To(Succeed())
			Expect(recorder.Shutdown()).To(Succeed())

			healed, err := store.Load("gateway")
			Expect(err).NotTo(HaveOccurred())
			Expect(healed.Interactions).To(HaveLen(2))
			Expect(healed.Interactions[0].URL).To(Equal(server.URL + "/backend"))
			Expect(healed.Interactions[1].URL).To(Equal(gateway.URL + "/front"))
		})

		It("passes unmatched requests upstream when lenient", func() {
			recorder := newRecorder(netcapture.Config{Lenient: true})
			Expect(recorder.Inject(context.Background(), "none")).To(Succeed())
			status, body, err := get(server.URL + "/y")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusCreated))
			Expect(body).To(Equal("echo:"))
			Expect(recorder.Release()).To(Succeed())
			Expect(recorder.Shutdown()).To(Succeed())
			Expect(store.Path("none")).NotTo(BeAnExistingFile())
		})
	})
})
