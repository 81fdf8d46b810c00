/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"strconv"

	"github.com/ttacon/chalk"

	"github.com/hyperledger-labs/testscope/pkg/cassette"
)

// statusStyle colors a status code by class.
func statusStyle(status int) chalk.Style {
	switch {
	case status >= 500:
		return chalk.Red.NewStyle().WithTextStyle(chalk.Bold)
	case status >= 400:
		return chalk.Yellow.NewStyle().WithTextStyle(chalk.Bold)
	default:
		return chalk.Green.NewStyle().WithTextStyle(chalk.Bold)
	}
}

func formatInteraction(name string, index int, i *cassette.Interaction, color bool) string {
	tag := fmt.Sprintf("[ %s #%s ]", name, strconv.Itoa(index))
	status := strconv.Itoa(i.Status)
	request := fmt.Sprintf("%s %s", i.Method, i.URL)
	sizes := fmt.Sprintf("(%d bytes sent, %d bytes received)", len(i.RequestBody), len(i.ResponseBody))

	if !color {
		return fmt.Sprintf("%s %s %s %s", tag, status, request, sizes)
	}

	boldCyan := chalk.Cyan.NewStyle().WithTextStyle(chalk.Bold)
	whiteText := chalk.White.NewStyle().WithTextStyle(chalk.Bold)
	return fmt.Sprintf("%s %s %s %s",
		boldCyan.Style(tag),
		statusStyle(i.Status).Style(status),
		whiteText.Style(request),
		sizes,
	)
}
