// Command lsictl is a local helper for localslackirc's control socket: it
// sends a chat message or a file to a channel or user as if posted from
// another IRC client (spec §4.6, supplementing the upstream lsi-write/
// lsi-send scripts with one combined subcommand binary).
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "write":
		runWrite(os.Args[2:])
	case "sendfile":
		runSendfile(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lsictl write [--control-socket path] <destination>")
	fmt.Fprintln(os.Stderr, "       lsictl sendfile [--control-socket path] [-f name] [-F path] <destination>")
}

func runWrite(args []string) {
	fs := pflag.NewFlagSet("write", pflag.ExitOnError)
	socketPath := fs.String("control-socket", "", "path to the localslackirc control socket")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	destination := fs.Arg(0)

	path := resolveSocket(*socketPath)
	if path == "" {
		fmt.Fprintln(os.Stderr, "lsictl: please specify the path to the socket")
		os.Exit(1)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sendWrite(path, destination, scanner.Text()+"\n"); err != nil {
			fmt.Fprintln(os.Stderr, "lsictl:", err)
			os.Exit(1)
		}
	}
}

func runSendfile(args []string) {
	fs := pflag.NewFlagSet("sendfile", pflag.ExitOnError)
	socketPath := fs.String("control-socket", "", "path to the localslackirc control socket")
	filename := fs.StringP("filename", "f", "filename", "name to give the file")
	source := fs.StringP("file", "F", "", "path of the file to send; stdin is used if unset")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	destination := fs.Arg(0)

	name := *filename
	var body io.Reader = os.Stdin
	if *source != "" {
		f, err := os.Open(*source)
		if err != nil {
			fmt.Fprintln(os.Stderr, "lsictl:", err)
			os.Exit(1)
		}
		defer f.Close()
		body = f
		name = filepath.Base(*source)
	}

	path := resolveSocket(*socketPath)
	if path == "" {
		fmt.Fprintln(os.Stderr, "lsictl: please specify the path to the socket")
		os.Exit(1)
	}

	reply, err := sendFile(path, destination, name, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lsictl:", err)
		os.Exit(1)
	}
	fmt.Println(reply)
	if reply != "ok" {
		os.Exit(1)
	}
}

// resolveSocket falls back to the single socket under the runtime
// directory used by the systemd unit, matching the upstream helper's
// find_socket() behavior.
func resolveSocket(explicit string) string {
	if explicit != "" {
		return explicit
	}
	const runDir = "/run/localslackirc/"
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, e := range entries {
		candidates = append(candidates, runDir+e.Name())
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return ""
}
