// Command kirokuview prints recent audit trace records from a local
// store, for quick inspection without the HTTP API.
//
// Usage:
//
//	kirokuview [-db kiroku.db] [-limit 20] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/kiroku-ai/kiroku/internal/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kirokuview:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dbPath  = flag.String("db", "kiroku.db", "path or URL of the trace database")
		limit   = flag.Int("limit", 20, "maximum records to show")
		asJSON  = flag.Bool("json", false, "emit records as a JSON array")
		traceID = flag.Int64("id", 0, "show a single record by id")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store, err := trace.Open(ctx, *dbPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if *traceID > 0 {
		rec, err := store.Get(ctx, *traceID)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	records, err := store.Recent(ctx, *limit)
	if err != nil {
		return err
	}

	if *asJSON {
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(records) == 0 {
		fmt.Println("no trace records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tFILENAME\tFORMAT\tINTENT\tVALID\tACTION")
	for _, r := range records {
		valid := "?"
		if res, err := r.DecodeResult(); err == nil {
			valid = fmt.Sprintf("%t", res.Valid)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Timestamp.Format("2006-01-02 15:04:05"),
			r.Filename,
			r.Format,
			r.Intent,
			valid,
			r.ActionTaken,
		)
	}
	return w.Flush()
}
