package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/medintel/internal/protocol"
	"github.com/ent0n29/medintel/internal/triage"
)

type options struct {
	baseURL        string
	userID         string
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	analyze        bool
	verbose        bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Resumed   bool   `json:"resumed"`
}

// wsEnvelope is the union of the server message fields the replay reads.
type wsEnvelope struct {
	Type             string               `json:"type"`
	TurnID           string               `json:"turn_id,omitempty"`
	Code             string               `json:"code,omitempty"`
	Detail           string               `json:"detail,omitempty"`
	Text             string               `json:"text,omitempty"`
	Message          string               `json:"message,omitempty"`
	Intent           string               `json:"intent,omitempty"`
	RiskLevel        string               `json:"risk_level,omitempty"`
	ReadyForAnalysis bool                 `json:"ready_for_analysis,omitempty"`
	Symptoms         []string             `json:"symptoms,omitempty"`
	Result           *triage.TriageResult `json:"result,omitempty"`
}

type turnOutcome struct {
	Latency   time.Duration
	Intent    string
	RiskLevel string
	Emergency bool
	Result    *triage.TriageResult
	Symptoms  []string
}

var defaultScript = []string{
	"Hi there",
	"I've had a fever and a dry cough since yesterday",
	"It's moderate, worse at night, and I feel fatigue",
	"That's all",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "triagereplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "triagereplay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("triagereplay", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "MedIntel base URL")
	fs.StringVar(&cfg.userID, "user-id", "triage-replay", "user_id used for the synthetic session")
	fs.IntVar(&startDelayMS, "start-delay-ms", 0, "delay before first turn in milliseconds")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for each reply in milliseconds")
	fs.StringVar(&textsRaw, "texts", "", "patient messages separated by '|' (optional)")
	fs.BoolVar(&cfg.analyze, "analyze", true, "request an analysis if the script never produced one")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultScript...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			t := strings.TrimSpace(part)
			if t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty messages")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := freshSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Printf("triagereplay: session=%s turns=%d\n", sessionID, len(cfg.texts))
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	events := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	var final *turnOutcome
	for i, text := range cfg.texts {
		start := time.Now()
		if err := conn.WriteJSON(protocol.ClientMessage{
			Type:      protocol.TypeClientMessage,
			SessionID: sessionID,
			Text:      text,
			TSMs:      start.UnixMilli(),
		}); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		outcome, err := awaitTurn(events, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		outcome.Latency = time.Since(start)
		if cfg.verbose {
			fmt.Printf("triagereplay: turn %d/%d latency=%s intent=%s risk=%s text=%q\n",
				i+1, len(cfg.texts), outcome.Latency.Round(time.Millisecond), outcome.Intent, outcome.RiskLevel, text)
		}
		if outcome.Emergency || outcome.Result != nil {
			final = &outcome
		}
		if outcome.Emergency {
			break
		}
		if cfg.interTurnDelay > 0 && i < len(cfg.texts)-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if final == nil && cfg.analyze {
		start := time.Now()
		if err := conn.WriteJSON(protocol.ClientControl{
			Type:      protocol.TypeClientControl,
			SessionID: sessionID,
			Action:    protocol.ActionAnalyze,
		}); err != nil {
			return fmt.Errorf("send analyze: %w", err)
		}
		outcome, err := awaitTurn(events, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		outcome.Latency = time.Since(start)
		final = &outcome
	}

	fmt.Print(formatOutcome(final))
	return nil
}

// awaitTurn collects server messages until the turn is complete: an emergency
// alert, a triage result, an error, or a reply that does not announce analysis.
func awaitTurn(events <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration) (turnOutcome, error) {
	var out turnOutcome
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case err := <-readErrCh:
			return out, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return out, fmt.Errorf("timed out after %s", timeout)
		case env := <-events:
			switch env.Type {
			case string(protocol.TypeEmergencyAlert):
				out.Emergency = true
				out.RiskLevel = env.RiskLevel
				return out, nil
			case string(protocol.TypeTriageResult):
				out.Result = env.Result
				out.Symptoms = env.Symptoms
				return out, nil
			case string(protocol.TypeAssistantReply):
				out.Intent = env.Intent
				out.RiskLevel = env.RiskLevel
				if !env.ReadyForAnalysis {
					return out, nil
				}
			case string(protocol.TypeErrorEvent):
				if env.Code == "no_symptoms" {
					return out, nil
				}
				return out, fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
			}
		}
	}
}

func formatOutcome(o *turnOutcome) string {
	if o == nil {
		return "triagereplay: no assessment produced\n"
	}
	var b strings.Builder
	if o.Emergency {
		fmt.Fprintf(&b, "triagereplay: EMERGENCY latency=%s risk=%s\n", o.Latency.Round(time.Millisecond), o.RiskLevel)
		return b.String()
	}
	if o.Result == nil {
		fmt.Fprintf(&b, "triagereplay: no symptoms identified latency=%s\n", o.Latency.Round(time.Millisecond))
		return b.String()
	}
	fmt.Fprintf(&b, "triagereplay: result latency=%s severity=%s urgency=%s symptoms=%s\n",
		o.Latency.Round(time.Millisecond), o.Result.Severity, o.Result.Urgency, strings.Join(o.Symptoms, ", "))
	if triage.IsUndetermined(o.Result.Predictions) {
		b.WriteString("  no matching condition\n")
	} else {
		for i, p := range o.Result.Predictions {
			fmt.Fprintf(&b, "  %d. %s (%.0f%%)\n", i+1, p.Condition, p.Confidence*100)
		}
	}
	for _, rf := range o.Result.RedFlags {
		fmt.Fprintf(&b, "  red flag: %s\n", rf)
	}
	return b.String()
}

// freshSession ends a session left over from an earlier run of the same user so
// the replay starts with an empty history.
func freshSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	sessionID, resumed, err := createSession(ctx, client, cfg)
	if err != nil || !resumed {
		return sessionID, err
	}
	if err := endSession(ctx, client, cfg.baseURL, sessionID); err != nil {
		return "", fmt.Errorf("end leftover session: %w", err)
	}
	sessionID, _, err = createSession(ctx, client, cfg)
	return sessionID, err
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, bool, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID})
	if err != nil {
		return "", false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/chat/session", bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", false, err
	}
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", false, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", false, fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, out.Resumed, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		events <- env
	}
}
