/*
Copyright (C) 2024  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// shardkvctl is the operator REPL for a shardkv keyspace: put/get/del
// against it directly, trigger maintenance, fsck every shard, and quiesce
// on exit (spec §11/§12's admin-CLI wiring).
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"

	"github.com/launix-de/shardkv/internal/hashing"
	"github.com/launix-de/shardkv/internal/persist"
	"github.com/launix-de/shardkv/keyspace"
)

func main() {
	dir := flag.String("dir", "./data", "base directory for shard segment files")
	attrs := flag.Int("attrs", 1, "number of secondary attributes per record")
	addr := flag.String("http", "", "address to serve shard stats websockets on, e.g. :8080 (empty disables)")
	flag.Parse()

	fmt.Print(`shardkvctl Copyright (C) 2024  Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	opts := keyspace.DefaultOptions(*attrs, hashing.FNVHasher{}, func(id uint64) (persist.Backend, error) {
		return persist.NewLocalBackend(*dir, fmt.Sprintf("shard%d", id))
	})
	ks, err := keyspace.Open(opts)
	if err != nil {
		fmt.Println("open failed:", err)
		return
	}

	onexit.Register(func() {
		if _, err := ks.QuiesceAll(); err != nil {
			fmt.Println("quiesce on exit failed:", err)
		}
	})

	if *addr != "" {
		go func() {
			if err := http.ListenAndServe(*addr, ks.StatsMux(time.Second)); err != nil {
				fmt.Println("stats server stopped:", err)
			}
		}()
	}

	repl(ks)
}

func repl(ks *keyspace.Keyspace) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       ".shardkvctl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runCommand(ks, line)
	}
}

func runCommand(ks *keyspace.Keyspace, line string) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("error:", r)
		}
	}()

	fields := strings.Fields(line)
	switch fields[0] {
	case "put":
		if len(fields) < 3 {
			fmt.Println("usage: put <key> <value...>")
			return
		}
		value := make([][]byte, len(fields)-2)
		for i, v := range fields[2:] {
			value[i] = []byte(v)
		}
		if err := ks.Put([]byte(fields[1]), value); err != nil {
			fmt.Println("put failed:", err)
			return
		}
		fmt.Println("ok")

	case "get":
		if len(fields) != 2 {
			fmt.Println("usage: get <key>")
			return
		}
		value, err := ks.Get([]byte(fields[1]))
		if err != nil {
			fmt.Println("get failed:", err)
			return
		}
		parts := make([]string, len(value))
		for i, v := range value {
			parts[i] = string(v)
		}
		fmt.Println(strings.Join(parts, " "))

	case "del":
		if len(fields) != 2 {
			fmt.Println("usage: del <key>")
			return
		}
		if err := ks.Del([]byte(fields[1])); err != nil {
			fmt.Println("del failed:", err)
			return
		}
		fmt.Println("ok")

	case "maintain":
		if err := ks.MaintainOnce(1024); err != nil {
			fmt.Println("maintain failed:", err)
			return
		}
		fmt.Println("ok")

	case "fsck":
		results, err := ks.FsckAll()
		if err != nil {
			fmt.Println("fsck failed:", err)
			return
		}
		if len(results) == 0 {
			fmt.Println("clean")
			return
		}
		for id, inc := range results {
			fmt.Println(strconv.FormatUint(id, 10)+":", inc)
		}

	case "status":
		for id, st := range ks.StatusSnapshot() {
			fmt.Printf("shard %d: %s wal=%d highest=%d removed=%d stale=%.2f\n",
				id, st.Coord, st.WALDepth, st.HighestID, st.Removed, st.StaleRatio)
		}

	case "quiesce":
		states, err := ks.QuiesceAll()
		if err != nil {
			fmt.Println("quiesce failed:", err)
			return
		}
		for id, stateID := range states {
			fmt.Printf("shard %d: %s\n", id, stateID)
		}

	case "help":
		fmt.Println("commands: put get del maintain fsck status quiesce help quit")

	case "quit", "exit":
		if _, err := ks.QuiesceAll(); err != nil {
			fmt.Println("quiesce on exit failed:", err)
		}
		os.Exit(0)

	default:
		fmt.Println("unknown command:", fields[0])
	}
}
