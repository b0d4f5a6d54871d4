package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/config"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/logger"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/nats"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/parser"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

const usage = `usage: mayakctl <command> [args]

  history list [limit]         show recent positions
  history export <gpx|kml|csv> write the history export to stdout
  history delete <id>          remove one entry
  history clear                remove every entry
  history use <id>             make an entry the current position
  settings show                print the current settings
  settings set <key>=<value>   change one setting
  settings reset               restore the defaults
  test                         load the test position
  readings [from] [to]         archived readings (RFC 3339, default last day)
  stats [history]              live counters, or archived snapshots
  led-on | led-off | find [source]
  connect [source]             ask the ingestor to connect a source
  observer <lat> <lon> [accuracy]
                               publish the searcher's location
  alerts                       print alerts until interrupted
`

var errUsage = errors.New("invalid usage")

const commandTimeout = 10 * time.Second

// Bus is the part of the NATS client the CLI uses
type Bus interface {
	SendCommand(ctx context.Context, req nats.CommandRequest) error
	RequestConnect(source string) error
	PublishObserverLocation(loc *types.ObserverLocation) error
	SubscribeAlerts(handler func(*types.Alert)) error
	Close()
}

// dialNATS is replaced in tests
var dialNATS = func(url string, log *slog.Logger) (Bus, error) {
	return nats.New(url, log)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.Setup("mayakctl", cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, os.Args[1:], cfg, os.Stdout, log)
	stop()
	closeLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, cfg *config.Config, out io.Writer, log *slog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}
	api := &apiClient{base: strings.TrimRight(cfg.TrackerURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	switch args[0] {
	case "history":
		return runHistory(ctx, api, args[1:], out)
	case "settings":
		return runSettings(ctx, api, args[1:], out)
	case "test":
		return api.do(ctx, http.MethodPost, "/api/position/test", nil, out)
	case "readings":
		return runReadings(ctx, api, args[1:], out)
	case "stats":
		switch optional(args, 1) {
		case "":
			return api.do(ctx, http.MethodGet, "/api/stats", nil, out)
		case "history":
			return api.do(ctx, http.MethodGet, "/api/stats/history", nil, out)
		default:
			return fmt.Errorf("%w: unknown stats command %q", errUsage, args[1])
		}
	case "led-on", "led-off", "find":
		cmd, err := parser.ParseCommand(args[0])
		if err != nil {
			return err
		}
		return withBus(cfg, log, func(c Bus) error {
			ctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			if err := c.SendCommand(ctx, nats.CommandRequest{Source: optional(args, 1), Command: string(cmd)}); err != nil {
				return err
			}
			fmt.Fprintf(out, "sent %s\n", cmd)
			return nil
		})
	case "observer":
		loc, err := parseObserver(args[1:])
		if err != nil {
			return err
		}
		return withBus(cfg, log, func(c Bus) error {
			if err := c.PublishObserverLocation(loc); err != nil {
				return err
			}
			fmt.Fprintf(out, "observer at %.6f, %.6f\n", loc.Latitude, loc.Longitude)
			return nil
		})
	case "alerts":
		return withBus(cfg, log, func(c Bus) error {
			return followAlerts(ctx, c, out)
		})
	case "connect":
		return withBus(cfg, log, func(c Bus) error {
			if err := c.RequestConnect(optional(args, 1)); err != nil {
				return err
			}
			fmt.Fprintln(out, "connect requested")
			return nil
		})
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func runHistory(ctx context.Context, api *apiClient, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: history needs a subcommand", errUsage)
	}
	switch args[0] {
	case "list":
		path := "/api/history"
		if limit := optional(args, 1); limit != "" {
			if _, err := strconv.Atoi(limit); err != nil {
				return fmt.Errorf("%w: limit must be a number", errUsage)
			}
			path += "?limit=" + limit
		}
		return api.do(ctx, http.MethodGet, path, nil, out)
	case "export":
		format := optional(args, 1)
		if format == "" {
			return fmt.Errorf("%w: export needs a format", errUsage)
		}
		return api.do(ctx, http.MethodGet, "/api/history/export?format="+url.QueryEscape(format), nil, out)
	case "delete":
		id := optional(args, 1)
		if id == "" {
			return fmt.Errorf("%w: delete needs an id", errUsage)
		}
		return api.do(ctx, http.MethodDelete, "/api/history/"+url.PathEscape(id), nil, out)
	case "clear":
		return api.do(ctx, http.MethodDelete, "/api/history", nil, out)
	case "use":
		id := optional(args, 1)
		if id == "" {
			return fmt.Errorf("%w: use needs an id", errUsage)
		}
		return api.do(ctx, http.MethodPost, "/api/history/"+url.PathEscape(id)+"/use", nil, out)
	default:
		return fmt.Errorf("%w: unknown history command %q", errUsage, args[0])
	}
}

func runSettings(ctx context.Context, api *apiClient, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: settings needs a subcommand", errUsage)
	}
	switch args[0] {
	case "show":
		return api.do(ctx, http.MethodGet, "/api/settings", nil, out)
	case "reset":
		return api.do(ctx, http.MethodPost, "/api/settings/reset", nil, out)
	case "set":
		body, err := settingPatch(args[1:])
		if err != nil {
			return err
		}
		return api.do(ctx, http.MethodPut, "/api/settings", body, out)
	default:
		return fmt.Errorf("%w: unknown settings command %q", errUsage, args[0])
	}
}

// settingPatch turns key=value pairs into a JSON object. Values that parse
// as JSON (true, 0.5) keep their type; anything else is sent as a string.
func settingPatch(pairs []string) ([]byte, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: set needs key=value", errUsage)
	}
	patch := make(map[string]json.RawMessage, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q is not key=value", errUsage, pair)
		}
		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			quoted, _ := json.Marshal(value)
			raw = quoted
		}
		patch[key] = raw
	}
	return json.Marshal(patch)
}

func runReadings(ctx context.Context, api *apiClient, args []string, out io.Writer) error {
	q := url.Values{}
	for i, key := range []string{"from", "to"} {
		v := optional(args, i)
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return fmt.Errorf("%w: %s must be RFC 3339", errUsage, key)
		}
		q.Set(key, v)
	}
	path := "/api/readings"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return api.do(ctx, http.MethodGet, path, nil, out)
}

func parseObserver(args []string) (*types.ObserverLocation, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: observer needs latitude and longitude", errUsage)
	}
	var values [3]float64
	for i, arg := range args {
		if i >= len(values) {
			return nil, fmt.Errorf("%w: too many observer arguments", errUsage)
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %q is not a number", errUsage, arg)
		}
		values[i] = v
	}
	if values[0] < -90 || values[0] > 90 || values[1] < -180 || values[1] > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", errUsage)
	}
	return &types.ObserverLocation{
		Latitude:  values[0],
		Longitude: values[1],
		Accuracy:  values[2],
		Timestamp: time.Now(),
	}, nil
}

// followAlerts prints one line per alert until ctx is done
func followAlerts(ctx context.Context, c Bus, out io.Writer) error {
	alerts := make(chan types.Alert, 16)
	if err := c.SubscribeAlerts(func(a *types.Alert) {
		select {
		case alerts <- *a:
		default:
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to alerts: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-alerts:
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", a.Timestamp.Format(time.RFC3339), a.Kind, a.Title, a.Body)
		}
	}
}

func withBus(cfg *config.Config, log *slog.Logger, fn func(Bus) error) error {
	c, err := dialNATS(cfg.NATSURL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer c.Close()
	return fn(c)
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

type apiClient struct {
	base string
	http *http.Client
}

// do sends a request and copies the response body to out. JSON bodies are
// indented; exports are copied verbatim.
func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out io.Writer) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read tracker response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("tracker returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("tracker returned %d", resp.StatusCode)
	}
	if len(data) == 0 {
		return nil
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err == nil {
			pretty.WriteByte('\n')
			_, err = out.Write(pretty.Bytes())
			return err
		}
	}
	_, err = out.Write(data)
	return err
}
