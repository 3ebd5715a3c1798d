package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

var errQuit = errors.New("quit")

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

// runREPL reads commands until EOF, "quit" or a cancelled context. Errors
// of a command are reported and the loop goes on.
func runREPL(ctx context.Context, cmds map[string]command, status func() string, in *bufio.Reader) {
	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("pdfmask %s >", status()))
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		name := strings.ToLower(parts[0])
		switch name {
		case "help", "?":
			printHelp(cmds)
			continue
		case "quit", "exit":
			printlnFn("Bye!")
			return
		}
		cmd, ok := cmds[name]
		if !ok {
			printlnFn("Unknown command:", name, "(type help)")
			continue
		}
		if err := cmd.run(ctx, parts[1:]); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			printlnFn(describe(err))
		}
	}
}

func printHelp(cmds map[string]command) {
	names := make([]string, 0, len(cmds))
	for n := range cmds {
		names = append(names, n)
	}
	slices.Sort(names)
	printlnFn("Commands:")
	for _, n := range names {
		printlnFn("  " + cmds[n].usage)
	}
	printlnFn("  help")
	printlnFn("  quit")
}
