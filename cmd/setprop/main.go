//
// Copyright 2024 The coreinit Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Command setprop is a minimal CmdSetProp2 wire-protocol client (§6): it
// connects to the property service socket, sends one framed name/value
// request, and prints the result code the server writes back.
package main

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli"

	"github.com/coreinit/coreinit/domain"
)

func setProp(socketPath, name, value string) (domain.ResultCode, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return 0, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := binary.Write(conn, binary.LittleEndian, domain.CmdSetProp2); err != nil {
		return 0, err
	}
	if err := writeFramedString(conn, name); err != nil {
		return 0, err
	}
	if err := writeFramedString(conn, value); err != nil {
		return 0, err
	}

	var code uint32
	if err := binary.Read(conn, binary.LittleEndian, &code); err != nil {
		return 0, fmt.Errorf("reading result: %w", err)
	}
	return domain.ResultCode(code), nil
}

func writeFramedString(conn net.Conn, s string) error {
	if err := binary.Write(conn, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := conn.Write([]byte(s))
	return err
}

func main() {
	app := cli.NewApp()
	app.Name = "setprop"
	app.Usage = "set a coreinit property over the CmdSetProp2 wire protocol"
	app.ArgsUsage = "name value"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "socket-path",
			Value: "/run/coreinit/property_service",
			Usage: "path to the property service's client socket",
		},
	}
	app.Action = func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.NewExitError("usage: setprop [--socket-path path] name value", 2)
		}

		code, err := setProp(c.String("socket-path"), c.Args().Get(0), c.Args().Get(1))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if code != domain.ResultSuccess {
			return cli.NewExitError(fmt.Sprintf("setprop failed: result code %d", code), 1)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
