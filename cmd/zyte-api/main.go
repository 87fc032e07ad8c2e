// Command zyte-api extracts data for a list of URLs or queries and writes
// the results as JSON lines.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zytedata/zyte-api-go/pkg/client"
	"github.com/zytedata/zyte-api-go/pkg/logging"
	"github.com/zytedata/zyte-api-go/pkg/retry"
	"github.com/zytedata/zyte-api-go/pkg/stats"
)

type options struct {
	input           string
	intype          string
	output          string
	limit           int
	nConn           int
	apiKey          string
	ethKey          string
	apiURL          string
	logLevel        string
	pretty          bool
	shuffle         bool
	dontRetryErrors bool
	storeErrors     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.input, "input", "-", "input file with URLs or JSON-lines queries, - for stdin")
	flag.StringVar(&opts.intype, "intype", "auto", "input type: txt, jl or auto")
	flag.StringVar(&opts.output, "output", "-", "output file for JSON-lines results, - for stdout")
	flag.IntVar(&opts.limit, "limit", 0, "process at most this many queries, 0 for all")
	flag.IntVar(&opts.nConn, "n-conn", 20, "number of concurrent connections")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key (default: ZYTE_API_KEY)")
	flag.StringVar(&opts.ethKey, "eth-key", "", "Ethereum private key (default: ZYTE_API_ETH_KEY)")
	flag.StringVar(&opts.apiURL, "api-url", "", "API base URL override")
	flag.StringVar(&opts.logLevel, "loglevel", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&opts.pretty, "pretty", false, "human-readable log output")
	flag.BoolVar(&opts.shuffle, "shuffle", false, "process queries in random order")
	flag.BoolVar(&opts.dontRetryErrors, "dont-retry-errors", false,
		"retry throttling responses only, surface other errors immediately")
	flag.BoolVar(&opts.storeErrors, "store-errors", false, "write failed queries to the output too")
	flag.Parse()

	// Best effort: credentials are commonly kept in a local .env file.
	_ = godotenv.Load()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(opts.logLevel),
		Pretty: opts.pretty,
		Output: os.Stderr,
	})

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Fatal().Err(err).Msg("Run failed")
	}
}

func run(ctx context.Context, opts options, logger zerolog.Logger) error {
	queries, err := readQueries(opts.input, opts.intype)
	if err != nil {
		return err
	}
	if opts.shuffle {
		rand.Shuffle(len(queries), func(i, j int) {
			queries[i], queries[j] = queries[j], queries[i]
		})
	}
	if opts.limit > 0 && opts.limit < len(queries) {
		queries = queries[:opts.limit]
	}
	if len(queries) == 0 {
		return fmt.Errorf("no queries in %s", opts.input)
	}

	policy := retry.DefaultPolicy()
	if opts.dontRetryErrors {
		policy = retry.ThrottlingOnlyPolicy()
	}
	c, err := client.New(client.Config{
		APIKey: opts.apiKey,
		EthKey: opts.ethKey,
		APIURL: opts.apiURL,
		NConn:  opts.nConn,
		Policy: policy,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	out, closeOut, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer closeOut()

	logger.Info().Int("queries", len(queries)).Int("n_conn", opts.nConn).Msg("Starting extraction")

	enc := json.NewEncoder(out)
	agg := c.AggStats()
	done := 0
	for result := range c.Iter(ctx, queries) {
		done++
		if result.Err != nil {
			logger.Error().
				Err(result.Err).
				Str("url", queryURL(result.Query)).
				Msg("Query failed")
			if opts.storeErrors {
				if err := enc.Encode(errorRecord(result)); err != nil {
					return err
				}
			}
		} else if err := enc.Encode(result.Value); err != nil {
			return err
		}
		if done%10 == 0 || done == len(queries) {
			logger.Info().
				Int("done", done).
				Int("total", len(queries)).
				Str("stats", agg.String()).
				Msg("Progress")
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(agg.Summary()), "\n") {
		logger.Info().Msg(line)
	}
	if codes := agg.StatusCodes(); len(codes) > 0 {
		logger.Info().Str("histogram", stats.Histogram(codes)).Msg("Status codes")
	}
	if types := agg.APIErrorTypes(); len(types) > 0 {
		logger.Info().Str("histogram", stats.Histogram(types)).Msg("API error types")
	}
	if kinds := agg.FaultKinds(); len(kinds) > 0 {
		logger.Info().Str("histogram", stats.Histogram(kinds)).Msg("Fault kinds")
	}
	return nil
}

// readQueries loads the input file as either plain URLs (one per line) or
// JSON-lines queries. Plain URLs become browser rendering queries. Every
// query gets an echoData field so results can be matched back to their
// input.
func readQueries(path, intype string) ([]map[string]any, error) {
	var reader io.Reader
	if path == "-" {
		reader = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		reader = f
	}

	var queries []map[string]any
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if intype == "auto" {
			intype = guessIntype(line)
		}
		query, err := parseQuery(line, intype)
		if err != nil {
			return nil, err
		}
		queries = append(queries, query)
	}
	return queries, scanner.Err()
}

// guessIntype infers the input type from the first non-empty line.
func guessIntype(line string) string {
	if strings.HasPrefix(line, "{") {
		return "jl"
	}
	return "txt"
}

func parseQuery(line, intype string) (map[string]any, error) {
	switch intype {
	case "txt":
		return map[string]any{
			"url":         line,
			"browserHtml": true,
			"echoData":    line,
		}, nil
	case "jl":
		var query map[string]any
		if err := json.Unmarshal([]byte(line), &query); err != nil {
			return nil, fmt.Errorf("invalid query line %q: %w", line, err)
		}
		if _, ok := query["echoData"]; !ok {
			query["echoData"] = query["url"]
		}
		return query, nil
	default:
		return nil, fmt.Errorf("unknown input type %q", intype)
	}
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func queryURL(query map[string]any) string {
	u, _ := query["url"].(string)
	return u
}

func errorRecord(result client.Result) map[string]any {
	record := map[string]any{
		"query": result.Query,
		"error": result.Err.Error(),
	}
	var reqErr *client.RequestError
	if errors.As(result.Err, &reqErr) {
		record["status"] = reqErr.Status
		if t := reqErr.Parsed().Type(); t != "" {
			record["type"] = t
		}
	}
	return record
}
