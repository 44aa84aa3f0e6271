// inject_spool seeds spool.db with synthetic failed records for smoke testing
// the replay command. It is a standalone tool, not part of the module's test suite.
//
// Usage:
//
//	go run ./scripts/inject_spool --db /path/to/spool.db --count 25 --body '{"seq":%d}'
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/developingchet/http-sink/internal/sink"
	"github.com/developingchet/http-sink/internal/storage"
)

// buildRecords renders count records from tmpl, replacing every %d with the
// record's zero-based index. Every rendered body must be valid JSON.
func buildRecords(count int, method, tmpl string) ([]sink.Record, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", count)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method != "POST" && method != "PUT" {
		return nil, fmt.Errorf("method must be POST or PUT, got %q", method)
	}
	out := make([]sink.Record, count)
	for i := range out {
		body := strings.ReplaceAll(tmpl, "%d", fmt.Sprint(i))
		if !json.Valid([]byte(body)) {
			return nil, fmt.Errorf("record %d: body is not valid JSON: %s", i, body)
		}
		out[i] = sink.Record{Method: method, Body: []byte(body)}
	}
	return out, nil
}

func main() {
	dbPath := flag.String("db", "", "Path to spool.db (required)")
	count := flag.Int("count", 10, "Number of records to inject")
	method := flag.String("method", "POST", "Insert method recorded on each record (POST|PUT)")
	body := flag.String("body", `{"seq":%d,"source":"inject_spool"}`, "JSON body template; %d is replaced by the record index")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("--db is required")
	}

	recs, err := buildRecords(*count, *method, *body)
	if err != nil {
		log.Fatal(err)
	}

	spool, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer spool.Close()

	if err := spool.Append(recs); err != nil {
		log.Fatalf("append: %v", err)
	}
	fmt.Printf("[inject_spool] appended %d record(s), spool now holds %d\n", len(recs), spool.Len())
	fmt.Println("[inject_spool] done, run `http-sink replay` to redeliver them")
}
