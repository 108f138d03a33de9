package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// bookingctl exercises the scheduling API from the command line: list open
// slots, place a booking, cancel or confirm one.
func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "bookingctl",
		Usage: "Interact with the scheduling service HTTP API.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base-url",
				Value:   envOr("SCHEDULING_BASE_URL", "http://localhost:8081"),
				Usage:   "scheduling service base URL",
				EnvVars: []string{"SCHEDULING_BASE_URL"},
			},
		},
		Commands: []*cli.Command{
			slotsCommand(),
			bookCommand(),
			cancelCommand(),
			confirmCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func slotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "List available slots for an event type.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event-type", Required: true, Usage: "event type id"},
			&cli.StringFlag{Name: "from", Usage: "first date to list (YYYY-MM-DD, default today)"},
			&cli.IntFlag{Name: "days", Value: 7, Usage: "number of days to list"},
			&cli.StringFlag{Name: "timezone", Value: "UTC", Usage: "invitee timezone"},
		},
		Action: func(c *cli.Context) error {
			q := url.Values{}
			q.Set("event_type_id", c.String("event-type"))
			q.Set("timezone", c.String("timezone"))
			q.Set("days", strconv.Itoa(c.Int("days")))
			if from := c.String("from"); from != "" {
				q.Set("from", from)
			}
			return doRequest(c, http.MethodGet, "/api/v1/public/slots?"+q.Encode(), nil, nil)
		},
	}
}

func bookCommand() *cli.Command {
	return &cli.Command{
		Name:  "book",
		Usage: "Create a booking at a given start time.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event-type", Required: true, Usage: "event type id"},
			&cli.StringFlag{Name: "start", Required: true, Usage: "start time (RFC3339)"},
			&cli.StringFlag{Name: "timezone", Value: "UTC", Usage: "invitee timezone"},
			&cli.StringFlag{Name: "name", Required: true, Usage: "invitee name"},
			&cli.StringFlag{Name: "email", Required: true, Usage: "invitee email"},
			&cli.StringFlag{Name: "recur-frequency", Usage: "recurring frequency (daily, weekly, monthly)"},
			&cli.IntFlag{Name: "recur-interval", Value: 1, Usage: "recurring interval"},
			&cli.IntFlag{Name: "recur-count", Usage: "number of occurrences"},
			&cli.StringFlag{Name: "idempotency-key", Usage: "idempotency key (generated when empty)"},
		},
		Action: func(c *cli.Context) error {
			if _, err := time.Parse(time.RFC3339, c.String("start")); err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			body := map[string]any{
				"event_type_id": c.String("event-type"),
				"start_time":    c.String("start"),
				"timezone":      c.String("timezone"),
				"invitee_name":  c.String("name"),
				"invitee_email": c.String("email"),
			}
			if count := c.Int("recur-count"); count > 1 {
				freq := c.String("recur-frequency")
				if freq == "" {
					freq = "weekly"
				}
				body["recurring"] = map[string]any{
					"frequency": freq,
					"interval":  c.Int("recur-interval"),
					"count":     count,
				}
			}

			key := c.String("idempotency-key")
			if key == "" {
				key = uuid.NewString()
				fmt.Fprintf(os.Stderr, "idempotency-key: %s\n", key)
			}
			headers := map[string]string{"Idempotency-Key": key}
			return doRequest(c, http.MethodPost, "/api/v1/public/bookings", body, headers)
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "Cancel a booking.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "booking-id", Required: true, Usage: "booking id"},
			&cli.StringFlag{Name: "reason", Usage: "cancellation reason"},
		},
		Action: func(c *cli.Context) error {
			body := map[string]any{
				"booking_id": c.String("booking-id"),
				"reason":     c.String("reason"),
			}
			return doRequest(c, http.MethodPost, "/api/v1/public/bookings/cancel", body, nil)
		},
	}
}

func confirmCommand() *cli.Command {
	return &cli.Command{
		Name:  "confirm",
		Usage: "Confirm a pending booking.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "booking-id", Required: true, Usage: "booking id"},
		},
		Action: func(c *cli.Context) error {
			body := map[string]any{"booking_id": c.String("booking-id")}
			return doRequest(c, http.MethodPost, "/api/v1/bookings/confirm", body, nil)
		},
	}
}

func doRequest(c *cli.Context, method, path string, body any, headers map[string]string) error {
	base := strings.TrimRight(c.String("base-url"), "/")

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(c.Context, method, base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "status=%d\n", resp.StatusCode)
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		return cli.Exit("", 1)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
