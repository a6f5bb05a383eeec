// blazedb is the CLI shell for BlazeDB.
//
// Usage:
//
//	blazedb open <db-path> <password>       Open a single database and start a shell
//	blazedb manager                         Start a multi-database shell
//	blazedb restore-backup <db-path>        Copy the sibling backup into place
//	blazedb show-backup <db-path>           Print the backup location
//
// Shell commands (open):
//
//	insert <json>             Insert a document, prints its id
//	get <id>                  Fetch a document by id
//	delete <id>               Delete a document by id
//	all                       List every document
//	exit / quit               Leave the shell
//
// Shell commands (manager):
//
//	list                      Print the current database's path (other mounted databases are not listed)
//	mount <name> <path> <password>
//	use <name>
//	current
//	exit / quit
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/blazedb/blazedb"
	"github.com/blazedb/blazedb/document"
	"github.com/blazedb/blazedb/mount"
)

func parseID(s string) (uuid.UUID, error) { return uuid.Parse(s) }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: blazedb <open|manager|restore-backup|show-backup> ...")
		return 1
	}

	switch args[0] {
	case "open":
		return cmdOpen(out, errOut, args[1:])
	case "manager":
		return cmdManager(out, errOut, args[1:])
	case "restore-backup":
		return cmdRestoreBackup(out, errOut, args[1:])
	case "show-backup":
		return cmdShowBackup(out, errOut, args[1:])
	default:
		fmt.Fprintf(errOut, "unknown command %q\n", args[0])
		return 1
	}
}

func cmdOpen(out, errOut io.Writer, args []string) int {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(errOut, "usage: blazedb open <db-path> <password>")
		return 1
	}

	db, err := blazedb.Open(rest[0], rest[1], "default")
	if err != nil {
		fmt.Fprintf(errOut, "open failed: %v\n", err)
		return 2
	}
	defer db.Close()

	return shellLoop(out, errOut, "blazedb> ", func(line string) (bool, int) {
		return dispatchOpenCmd(out, errOut, db, line)
	})
}

func dispatchOpenCmd(out, errOut io.Writer, db *blazedb.DB, line string) (stop bool, code int) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, 0
	}

	switch fields[0] {
	case "exit", "quit":
		return true, 0
	case "insert":
		payload := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		var doc document.Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			fmt.Fprintf(errOut, "invalid document: %v\n", err)
			return false, 0
		}
		id, err := db.Insert(doc)
		if err != nil {
			fmt.Fprintf(errOut, "insert failed: %v\n", err)
			return false, 0
		}
		fmt.Fprintln(out, id.String())
	case "get":
		if len(fields) != 2 {
			fmt.Fprintln(errOut, "usage: get <id>")
			return false, 0
		}
		printFetchByString(out, errOut, db, fields[1])
	case "delete":
		if len(fields) != 2 {
			fmt.Fprintln(errOut, "usage: delete <id>")
			return false, 0
		}
		deleteByString(out, errOut, db, fields[1])
	case "all":
		docs, err := db.FetchAll()
		if err != nil {
			fmt.Fprintf(errOut, "list failed: %v\n", err)
			return false, 0
		}
		for _, doc := range docs {
			out2, _ := json.Marshal(doc)
			fmt.Fprintln(out, string(out2))
		}
	default:
		fmt.Fprintf(errOut, "unknown command %q\n", fields[0])
	}
	return false, 0
}

func cmdManager(out, errOut io.Writer, args []string) int {
	m := mount.NewManager()
	defer m.UnmountAll()

	return shellLoop(out, errOut, "manager> ", func(line string) (bool, int) {
		return dispatchManagerCmd(out, errOut, m, line)
	})
}

func dispatchManagerCmd(out, errOut io.Writer, m *mount.Manager, line string) (stop bool, code int) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, 0
	}

	switch fields[0] {
	case "exit", "quit":
		return true, 0
	case "list":
		if cur := m.Current(); cur != nil {
			fmt.Fprintln(out, cur.Path())
		}
	case "mount":
		if len(fields) != 4 {
			fmt.Fprintln(errOut, "usage: mount <name> <path> <password>")
			return false, 0
		}
		if _, err := m.Mount(fields[1], fields[2], fields[3]); err != nil {
			fmt.Fprintf(errOut, "mount failed: %v\n", err)
		}
	case "use":
		if len(fields) != 2 {
			fmt.Fprintln(errOut, "usage: use <name>")
			return false, 0
		}
		if err := m.Use(fields[1]); err != nil {
			fmt.Fprintf(errOut, "use failed: %v\n", err)
		}
	case "current":
		if cur := m.Current(); cur != nil {
			fmt.Fprintln(out, cur.Path())
		} else {
			fmt.Fprintln(out, "(none)")
		}
	default:
		fmt.Fprintf(errOut, "unknown command %q\n", fields[0])
	}
	return false, 0
}

func cmdRestoreBackup(out, errOut io.Writer, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: blazedb restore-backup <db-path>")
		return 1
	}
	path := args[0]
	backup := path + ".bak"

	if err := copyFileCLI(backup, path); err != nil {
		fmt.Fprintf(errOut, "restore failed: %v\n", err)
		return 2
	}
	fmt.Fprintln(out, "restored from", backup)
	return 0
}

func cmdShowBackup(out, errOut io.Writer, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: blazedb show-backup <db-path>")
		return 1
	}
	fmt.Fprintln(out, filepath.Clean(args[0])+".bak")
	return 0
}

func printFetchByString(out, errOut io.Writer, db *blazedb.DB, idStr string) {
	id, err := parseID(idStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid id: %v\n", err)
		return
	}
	doc, ok, err := db.Fetch(id)
	if err != nil {
		fmt.Fprintf(errOut, "fetch failed: %v\n", err)
		return
	}
	if !ok {
		fmt.Fprintln(errOut, "not found")
		return
	}
	encoded, _ := json.Marshal(doc)
	fmt.Fprintln(out, string(encoded))
}

func deleteByString(out, errOut io.Writer, db *blazedb.DB, idStr string) {
	id, err := parseID(idStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid id: %v\n", err)
		return
	}
	if err := db.Delete(id); err != nil {
		fmt.Fprintf(errOut, "delete failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "ok")
}

// shellLoop runs a liner-backed REPL, dispatching each non-empty line to
// handle until it signals stop or the user presses Ctrl-D / Ctrl-C.
func shellLoop(out, errOut io.Writer, prompt string, handle func(line string) (stop bool, code int)) int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return 0
			}
			fmt.Fprintln(errOut, err)
			return 2
		}
		line.AppendHistory(input)

		if stop, code := handle(input); stop {
			return code
		}
	}
}

func copyFileCLI(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
