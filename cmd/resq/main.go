// Command resq serves a declarative data api for a json schema document.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mb0/resq/log"
)

const usage = `usage: resq [-schema=<path>] [-db=<string>] <command> [<args>]

Configuration flags:

   -schema     The schema document path, resq.json in the current directory by default.

   -db         The database connection string. A postgres:// url selects the postgres driver,
               any other non-empty string opens a sqlite database file. Without this flag data
               is served from memory, seeded by the -data fixture.

   -data       A json fixture keyed by table name, loaded into the memory backend.

   -addr       The listen address of the serve command, localhost:8090 by default.

Commands
   check       Parse and validate the schema document and print a summary
   serve       Serve the api over websockets
   query       Run one request given as ref and query parameters and print the result
   help        Display this help message
`

var (
	schemaFlag = flag.String("schema", "resq.json", "schema document path")
	dbFlag     = flag.String("db", "", "database connection string")
	dataFlag   = flag.String("data", "", "memory backend fixture path")
	addrFlag   = flag.String("addr", "localhost:8090", "serve listen address")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "missing command\n\n", usage)
		os.Exit(1)
	}
	var err error
	switch cmd := args[0]; cmd {
	case "check":
		err = check(args[1:])
	case "serve":
		err = serve(args[1:])
	case "query":
		err = query(args[1:])
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", cmd, usage)
		os.Exit(1)
	}
	if err != nil {
		log.Root.Crit("command failed", "cmd", args[0], "err", err)
	}
}
