package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/mattyg/ui-common-library/internal/signal"
	"github.com/mattyg/ui-common-library/pkg/logger"
	"github.com/mattyg/ui-common-library/pkg/types"
)

// InfoCommand prints the app descriptor as JSON.
func (a *App) InfoCommand(ctx context.Context) error {
	s, _, err := a.Open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := connect(ctx, s); err != nil {
		return err
	}
	return a.printJSON(s.AppInfo())
}

// CallCommand parses call flags and prints the zome call result as JSON.
func (a *App) CallCommand(ctx context.Context, args []string) error {
	req, err := parseCallArgs(args)
	if err != nil {
		return err
	}

	s, _, err := a.Open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := connect(ctx, s); err != nil {
		return err
	}

	out, err := s.CallZome(ctx, req)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", req.ZomeName, req.FnName, err)
	}
	return a.printJSON(out)
}

// WatchCommand prints every app signal as a JSON line until ctx is done.
func (a *App) WatchCommand(ctx context.Context) error {
	enc := json.NewEncoder(a.out)
	handler := signal.HandlerFunc(func(sig signal.Signal) {
		if err := enc.Encode(watchLine{
			DnaHash: sig.DnaHash.String(),
			Agent:   sig.Agent.String(),
			Data:    sig.Data,
		}); err != nil {
			logger.Warnf("Failed to print signal: %v", err)
		}
	})

	s, _, err := a.Open(handler)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := connect(ctx, s); err != nil {
		return err
	}

	logger.Infof("Watching signals. Press Ctrl+C to exit.")
	<-ctx.Done()
	return nil
}

type watchLine struct {
	DnaHash string `json:"dna_hash"`
	Agent   string `json:"agent"`
	Data    any    `json:"data"`
}

// AgentCommand prints the agent id, optionally as a QR code.
func (a *App) AgentCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	showQR := fs.Bool("qr", false, "Print the agent id as a QR code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, _, err := a.Open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := connect(ctx, s); err != nil {
		return err
	}

	id := s.AgentID()
	if id == "" {
		return fmt.Errorf("agent key not available")
	}
	fmt.Fprintln(a.out, id)
	if *showQR {
		a.printQRCode(id)
	}
	return nil
}

// AuthCommand runs sign-in, sign-up or sign-out against the hosted gateway.
func (a *App) AuthCommand(ctx context.Context, op string) error {
	s, h, err := a.Open(nil)
	if err != nil {
		return err
	}
	defer s.Close()
	if h == nil {
		return ErrHostedOnly
	}

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	switch op {
	case "sign-in":
		err = h.SignIn(ctx)
	case "sign-up":
		err = h.SignUp(ctx)
	case "sign-out":
		err = h.SignOut(ctx)
	default:
		return fmt.Errorf("unknown auth command %q", op)
	}
	if err != nil {
		return err
	}
	h.CloseAuthForm()

	if err := a.saveSessionToken(h); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s ok (logged in: %t, agent: %s)\n", op, h.IsLoggedIn(), h.AgentID())
	return nil
}

func parseCallArgs(args []string) (types.CallZomeRequest, error) {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	role := fs.String("role", "", "Role name of the target cell")
	cellDna := fs.String("cell-dna", "", "DNA hash of the target cell")
	cellAgent := fs.String("cell-agent", "", "Agent key of the target cell")
	zome := fs.String("zome", "", "Zome name")
	fn := fs.String("fn", "", "Function name")
	payload := fs.String("payload", "", "JSON payload")

	if err := fs.Parse(args); err != nil {
		return types.CallZomeRequest{}, err
	}
	if *zome == "" || *fn == "" {
		return types.CallZomeRequest{}, fmt.Errorf("-zome and -fn are required")
	}

	req := types.CallZomeRequest{
		RoleName: types.RoleName(*role),
		ZomeName: *zome,
		FnName:   *fn,
	}

	if *cellDna != "" || *cellAgent != "" {
		dna, err := types.ParseDnaHash(*cellDna)
		if err != nil {
			return types.CallZomeRequest{}, fmt.Errorf("invalid -cell-dna: %w", err)
		}
		agent, err := types.ParseAgentPubKey(*cellAgent)
		if err != nil {
			return types.CallZomeRequest{}, fmt.Errorf("invalid -cell-agent: %w", err)
		}
		id := types.NewCellID(dna, agent)
		req.CellID = &id
	}

	if strings.TrimSpace(*payload) != "" {
		if err := json.Unmarshal([]byte(*payload), &req.Payload); err != nil {
			return types.CallZomeRequest{}, fmt.Errorf("invalid -payload: %w", err)
		}
	}
	return req, nil
}

func (a *App) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func (a *App) printQRCode(data string) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		logger.Warnf("Failed to generate QR code: %v", err)
		return
	}
	fmt.Fprintln(a.out, qr.ToSmallString(false))
}

