package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/mb0/resq/dom"
	"github.com/mb0/resq/hub"
	"github.com/mb0/resq/hub/wshub"
	"github.com/mb0/resq/log"
	"github.com/mb0/resq/qry"
	"github.com/mb0/resq/qry/qrymem"
	"github.com/mb0/resq/qry/qrysql"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func check(args []string) error {
	s, err := dom.ReadFile(*schemaFlag)
	if err != nil {
		return err
	}
	fmt.Printf("schema %s ok\n", s.Name)
	for _, sp := range s.Spaces {
		fmt.Printf("space %s\n", sp.Key())
		for _, r := range sp.Resources {
			kind := "resource"
			if r.Singleton {
				kind = "singleton"
			}
			fmt.Printf("   %-10s %s, %d fields\n", kind, r.Qual(), len(r.Fields))
		}
	}
	return nil
}

func serve(args []string) error {
	srv, err := newServer()
	if err != nil {
		return err
	}
	qs, err := hub.NewQrySrv(srv, 64, log.Root)
	if err != nil {
		return err
	}
	defer qs.Close()
	h := hub.NewHub()
	go h.Run(hub.NewPrefixFilter(qs, hub.SubjQry))
	http.HandleFunc("/hub", wshub.Serve(h, log.Root))
	log.Root.Debug("listening", "addr", *addrFlag)
	return http.ListenAndServe(*addrFlag, nil)
}

func query(args []string) error {
	if len(args) == 0 {
		return errors.New("query wants a ref argument")
	}
	srv, err := newServer()
	if err != nil {
		return err
	}
	req := &qry.Request{Ref: args[0], Params: map[string][]string{}}
	for _, arg := range args[1:] {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			return errors.Errorf("want key=value parameter got %s", arg)
		}
		if key == "action" {
			req.Action = val
			continue
		}
		req.Params[key] = append(req.Params[key], val)
	}
	res := srv.Execute(context.Background(), req)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "   ")
	return enc.Encode(res)
}

func newServer() (*qry.Server, error) {
	s, err := dom.ReadFile(*schemaFlag)
	if err != nil {
		return nil, err
	}
	b, err := openBackend()
	if err != nil {
		return nil, err
	}
	return qry.NewServer(s, b, log.Root), nil
}

// openBackend selects the backend from the db flag: empty serves from memory, a postgres url
// selects the pgx driver and any other string opens a sqlite file.
func openBackend() (qry.Backend, error) {
	if *dbFlag == "" {
		mem := qrymem.New()
		if *dataFlag != "" {
			raw, err := os.ReadFile(*dataFlag)
			if err != nil {
				return nil, err
			}
			var fix map[string][]map[string]interface{}
			if err = json.Unmarshal(raw, &fix); err != nil {
				return nil, errors.WithMessage(err, "fixture")
			}
			for name, rows := range fix {
				mem.AddTable(name, rows)
			}
		}
		return mem, nil
	}
	if strings.HasPrefix(*dbFlag, "postgres://") {
		db, err := sql.Open("pgx", *dbFlag)
		if err != nil {
			return nil, err
		}
		return qrysql.NewPostgres(db), nil
	}
	db, err := sql.Open("sqlite", *dbFlag)
	if err != nil {
		return nil, err
	}
	return qrysql.New(db), nil
}
