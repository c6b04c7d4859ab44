// Command duzzle administers and plays a duzzle ledger stored under a data
// directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"duzzle.ai/internal/engine"
	"duzzle.ai/internal/feature/access"
	"duzzle.ai/internal/feature/mint"
	"duzzle.ai/internal/feature/season"
	"duzzle.ai/internal/feature/zone"
	"duzzle.ai/internal/ledger"
	"duzzle.ai/internal/persistence/archive"
	"duzzle.ai/internal/persistence/snapshot"
	"duzzle.ai/internal/plan"
	"duzzle.ai/internal/protocol"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string) error
}

var commands = []command{
	{"init", "create the DAL pool and piece collection", initCmd},
	{"open-season", "start the next season", openSeasonCmd},
	{"set-zone", "configure one zone of the current season", setZoneCmd},
	{"apply-plan", "open a season and configure its zones from a plan file", applyPlanCmd},
	{"mint-resource", "credit materials or DAL to an account (admin)", mintResourceCmd},
	{"transfer-resource", "move materials between accounts", transferResourceCmd},
	{"mint-piece", "burn a zone's materials and mint a puzzle piece", mintPieceCmd},
	{"transfer-piece", "move a puzzle piece", transferPieceCmd},
	{"approve", "approve an account to move one piece", approveCmd},
	{"grant", "grant a role", roleCmd(true)},
	{"revoke", "revoke a role", roleCmd(false)},
	{"transfer-admin", "hand the administrative role to another account", transferAdminCmd},
	{"status", "show a season's configuration and readiness", statusCmd},
	{"balance", "show an account's materials and pieces", balanceCmd},
	{"piece", "show one puzzle piece", pieceCmd},
	{"events", "print committed events as JSON lines", eventsCmd},
	{"snapshot", "export the whole ledger", snapshotCmd},
	{"restore", "replace the ledger with a snapshot", restoreCmd},
	{"mirror-archives", "upload every season archive to the configured bucket", mirrorCmd},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(context.Background(), os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			if code := protocol.CodeOf(err); code != protocol.CodeInternal {
				os.Exit(3)
			}
			os.Exit(1)
		}
		return
	}
	usage()
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: duzzle <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-18s %s\n", c.name, c.usage)
	}
}

// withApp parses fs, opens the ledger and runs fn.
func withApp(ctx context.Context, fs *flag.FlagSet, cf commonFlags, args []string, fn func(a *app) error) error {
	_ = fs.Parse(args)
	a, err := openApp(ctx, cf)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()
	return fn(a)
}

func printReceipt(r *ledger.Receipt) {
	for _, e := range r.Events {
		fmt.Printf("event %d %s %s\n", e.Seq, e.Kind, string(e.Body))
	}
}

func initCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cf := addCommon(fs)
	return withApp(ctx, fs, cf, args, func(a *app) error {
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		r, err := a.engine.Init(ctx, engine.InitParams{
			Owner:      caller,
			DalCap:     a.cfg.DalCap,
			ZoneCount:  a.cfg.ZoneCount,
			Collection: a.cfg.Collection(),
		})
		if err != nil {
			return err
		}
		printReceipt(r)
		fmt.Println("dal token:", a.engine.DalToken().Hex())
		fmt.Println("minter:   ", a.engine.Self().Hex())
		return nil
	})
}

func openSeasonCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("open-season", flag.ExitOnError)
	cf := addCommon(fs)
	existing := fs.String("existing", "", "comma-separated resource ids to carry over")
	names := fs.String("names", "", "comma-separated names of new materials")
	symbols := fs.String("symbols", "", "comma-separated symbols of new materials")
	caps := fs.String("caps", "", "comma-separated supply caps: existing first, then new")
	total := fs.Uint64("total", 0, "total piece count of the season")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		ex, err := parseAddrList(*existing)
		if err != nil {
			return fmt.Errorf("-existing: %w", err)
		}
		cs, err := parseUintList(*caps)
		if err != nil {
			return fmt.Errorf("-caps: %w", err)
		}
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		before := a.engine.Snapshot()
		s, r, err := a.engine.OpenSeason(ctx, caller, season.Request{
			Existing:    ex,
			NewNames:    splitList(*names),
			NewSymbols:  splitList(*symbols),
			SupplyCaps:  cs,
			TotalPieces: *total,
		})
		if err != nil {
			return err
		}
		printReceipt(r)
		fmt.Printf("season %d materials:\n", s.Index)
		for _, id := range s.Resources {
			fmt.Println(" ", id.Hex())
		}
		return a.archiveClosed(ctx, before)
	})
}

func setZoneCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-zone", flag.ExitOnError)
	cf := addCommon(fs)
	seasonIdx := fs.Int("season", 0, "season index (default: current)")
	zoneIdx := fs.Int("zone", -1, "zone index")
	pieces := fs.Uint64("pieces", 0, "piece count of the zone")
	items := fs.String("items", "", "comma-separated required resource ids")
	amounts := fs.String("amounts", "", "comma-separated required amounts")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		res, err := parseAddrList(*items)
		if err != nil {
			return fmt.Errorf("-items: %w", err)
		}
		am, err := parseUintList(*amounts)
		if err != nil {
			return fmt.Errorf("-amounts: %w", err)
		}
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		s := *seasonIdx
		if s == 0 {
			s = a.engine.CurrentSeason()
		}
		r, err := a.engine.SetZoneData(ctx, caller, zone.Config{
			Season: s, Zone: *zoneIdx, PieceCount: *pieces, Resources: res, Amounts: am,
		})
		if err != nil {
			return err
		}
		printReceipt(r)
		return nil
	})
}

func applyPlanCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("apply-plan", flag.ExitOnError)
	cf := addCommon(fs)
	planPath := fs.String("plan", "", "season plan file (yaml)")
	parallel := fs.Int("parallel", 0, "max zone calls in flight (0 = all)")
	configureOnly := fs.Bool("configure-only", false, "skip opening; configure zones of the current season")
	quiet := fs.Bool("quiet", false, "hide the progress bar")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		if strings.TrimSpace(*planPath) == "" {
			return errors.New("missing -plan")
		}
		p, err := plan.Load(*planPath)
		if err != nil {
			return err
		}
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		a.logger.Printf("plan %s: %s", *planPath, p.Describe())

		bar := pb.StartNew(len(p.Zones))
		if *quiet {
			bar.SetWriter(nopWriter{})
		}
		opts := plan.ApplyOptions{Parallel: *parallel, Progress: func(int, int) { bar.Increment() }}

		var s ledger.Season
		if *configureOnly {
			if s, err = a.engine.Season(a.engine.CurrentSeason()); err == nil {
				err = plan.Configure(ctx, a.engine, caller, p, s, opts)
			}
		} else {
			before := a.engine.Snapshot()
			s, err = plan.Apply(ctx, a.engine, caller, p, opts)
			// A failed zone call still leaves the season open.
			if aerr := a.archiveClosed(ctx, before); aerr != nil && err == nil {
				err = aerr
			}
		}
		bar.Finish()
		if err != nil {
			return err
		}
		return printStatus(a, s.Index)
	})
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func mintResourceCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mint-resource", flag.ExitOnError)
	cf := addCommon(fs)
	res := fs.String("resource", "", "resource id (default: DAL)")
	to := fs.String("to", "", "recipient")
	amount := fs.Uint64("amount", 0, "amount")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		id := a.engine.DalToken()
		if *res != "" {
			if id, err = parseAddr(*res); err != nil {
				return fmt.Errorf("-resource: %w", err)
			}
		}
		dst, err := parseAddr(*to)
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		r, err := a.engine.MintResource(ctx, caller, id, dst, *amount)
		if err != nil {
			return err
		}
		printReceipt(r)
		return nil
	})
}

func transferResourceCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transfer-resource", flag.ExitOnError)
	cf := addCommon(fs)
	res := fs.String("resource", "", "resource id")
	to := fs.String("to", "", "recipient")
	amount := fs.Uint64("amount", 0, "amount")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		id, err := parseAddr(*res)
		if err != nil {
			return fmt.Errorf("-resource: %w", err)
		}
		dst, err := parseAddr(*to)
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		r, err := a.engine.TransferResource(ctx, caller, id, dst, *amount)
		if err != nil {
			return err
		}
		printReceipt(r)
		return nil
	})
}

func mintPieceCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mint-piece", flag.ExitOnError)
	cf := addCommon(fs)
	seasonIdx := fs.Int("season", 0, "season index (default: current)")
	zoneIdx := fs.Int("zone", -1, "zone index")
	ref := fs.String("ref", "", "content reference (default: puzzle/<season>/<zone>/<n>)")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		s := *seasonIdx
		if s == 0 {
			s = a.engine.CurrentSeason()
		}
		requester, err := a.requireCaller()
		if err != nil {
			return err
		}
		res, r, err := a.engine.MintPiece(ctx, mint.Request{Season: s, Zone: *zoneIdx, Requester: requester, ContentRef: *ref})
		if err != nil {
			if errors.Is(err, protocol.ErrInsufficientResource) {
				if short, serr := a.engine.Shortfalls(s, *zoneIdx, requester); serr == nil {
					for _, sf := range short {
						fmt.Fprintf(os.Stderr, "  %s: have %d, need %d\n", sf.Symbol, sf.Have, sf.Need)
					}
				}
			}
			return err
		}
		printReceipt(r)
		uri, _ := a.engine.TokenURI(res.TokenID)
		fmt.Printf("piece %d minted in season %d zone %d: %s\n", res.TokenID, res.Season, res.Zone, uri)
		return nil
	})
}

func transferPieceCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transfer-piece", flag.ExitOnError)
	cf := addCommon(fs)
	from := fs.String("from", "", "current owner (default: -as)")
	to := fs.String("to", "", "recipient")
	id := fs.Uint64("id", 0, "piece id")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		src := caller
		if *from != "" {
			if src, err = parseAddr(*from); err != nil {
				return fmt.Errorf("-from: %w", err)
			}
		}
		dst, err := parseAddr(*to)
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		r, err := a.engine.TransferPiece(ctx, caller, src, dst, *id)
		if err != nil {
			return err
		}
		printReceipt(r)
		return nil
	})
}

func approveCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("approve", flag.ExitOnError)
	cf := addCommon(fs)
	to := fs.String("to", "", "account to approve (zero address clears)")
	id := fs.Uint64("id", 0, "piece id")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		dst, err := parseAddr(*to)
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		r, err := a.engine.ApprovePiece(ctx, caller, dst, *id)
		if err != nil {
			return err
		}
		printReceipt(r)
		return nil
	})
}

func roleCmd(grant bool) func(context.Context, []string) error {
	name := "revoke"
	if grant {
		name = "grant"
	}
	return func(ctx context.Context, args []string) error {
		fs := flag.NewFlagSet(name, flag.ExitOnError)
		cf := addCommon(fs)
		roleName := fs.String("role", "admin", "role name (MINTER stays with the mint gate)")
		account := fs.String("account", "", "account")
		return withApp(ctx, fs, cf, args, func(a *app) error {
			caller, err := a.requireCaller()
			if err != nil {
				return err
			}
			role, ok := access.ParseRole(*roleName)
			if !ok {
				return fmt.Errorf("unknown role %q", *roleName)
			}
			acct, err := parseAddr(*account)
			if err != nil {
				return fmt.Errorf("-account: %w", err)
			}
			var r *ledger.Receipt
			if grant {
				r, err = a.engine.GrantRole(ctx, caller, role, acct)
			} else {
				r, err = a.engine.RevokeRole(ctx, caller, role, acct)
			}
			if err != nil {
				return err
			}
			printReceipt(r)
			return nil
		})
	}
}

func transferAdminCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transfer-admin", flag.ExitOnError)
	cf := addCommon(fs)
	to := fs.String("to", "", "new administrator")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		caller, err := a.requireCaller()
		if err != nil {
			return err
		}
		dst, err := parseAddr(*to)
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		r, err := a.engine.TransferAdmin(ctx, caller, dst)
		if err != nil {
			return err
		}
		printReceipt(r)
		return nil
	})
}

func statusCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addCommon(fs)
	seasonIdx := fs.Int("season", 0, "season index (default: current)")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		s := *seasonIdx
		if s == 0 {
			s = a.engine.CurrentSeason()
		}
		return printStatus(a, s)
	})
}

func printStatus(a *app, seasonIdx int) error {
	meta := a.engine.Meta()
	if seasonIdx == 0 {
		fmt.Print(fmtTable("Duzzle", []string{"Initialized", "Owner", "DAL", "Seasons"}, map[string]string{
			"Initialized": strconv.FormatBool(meta.Initialized),
			"Owner":       meta.Owner.Hex(),
			"DAL":         meta.DalToken.Hex(),
			"Seasons":     "none",
		}))
		return nil
	}
	s, err := a.engine.Season(seasonIdx)
	if err != nil {
		return err
	}
	st, err := a.engine.SeasonStatus(seasonIdx)
	if err != nil {
		return err
	}

	var mats []string
	for _, id := range s.Resources {
		p, err := a.engine.Pool(id)
		if err != nil {
			return err
		}
		mats = append(mats, fmt.Sprintf("%s %s/%s", p.Symbol, num(p.Supply()), num(p.Cap)))
	}
	keys := []string{"Opened", "Materials", "Zones configured", "Pieces configured", "Pieces declared", "Pieces minted", "Ready"}
	fmt.Print(fmtTable(fmt.Sprintf("Season %d", s.Index), keys, map[string]string{
		"Opened":            s.OpenedAt.Format("2006-01-02 15:04"),
		"Materials":         strings.Join(mats, ", "),
		"Zones configured":  fmt.Sprintf("%d/%d", st.Configured, st.ZoneCount),
		"Pieces configured": num(st.ConfiguredPieces),
		"Pieces declared":   num(st.DeclaredPieces),
		"Pieces minted":     num(st.MintedPieces),
		"Ready":             strconv.FormatBool(st.Ready),
	}))

	var rows [][]string
	for i := 0; i < st.ZoneCount; i++ {
		z, err := a.engine.Zone(seasonIdx, i)
		if err != nil {
			rows = append(rows, []string{strconv.Itoa(i), "-", "-", "unconfigured"})
			continue
		}
		var req []string
		for _, r := range z.Requirements {
			sym := r.Resource.Hex()
			if p, err := a.engine.Pool(r.Resource); err == nil {
				sym = p.Symbol
			}
			req = append(req, fmt.Sprintf("%d %s", r.Amount, sym))
		}
		rows = append(rows, []string{strconv.Itoa(i), num(z.Minted), num(z.PieceCount), strings.Join(req, " + ")})
	}
	fmt.Print(fmtGrid([]string{"ZONE", "MINTED", "PIECES", "REQUIRES"}, rows))
	return nil
}

func balanceCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	cf := addCommon(fs)
	account := fs.String("account", "", "account (default: -as)")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		acct := a.caller
		if *account != "" {
			var err error
			if acct, err = parseAddr(*account); err != nil {
				return fmt.Errorf("-account: %w", err)
			}
		}
		var keys []string
		msg := map[string]string{}
		for _, p := range a.engine.Pools() {
			n, err := a.engine.BalanceOf(p.ID, acct)
			if err != nil || n == 0 {
				continue
			}
			key := fmt.Sprintf("%s (%s)", p.Symbol, p.Name)
			keys = append(keys, key)
			msg[key] = num(n)
		}
		sort.Strings(keys)
		keys = append(keys, "Pieces")
		msg["Pieces"] = num(a.engine.PieceBalanceOf(acct))
		fmt.Print(fmtTable(acct.Hex(), keys, msg))
		return nil
	})
}

func pieceCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("piece", flag.ExitOnError)
	cf := addCommon(fs)
	id := fs.Uint64("id", 0, "piece id")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		p, err := a.engine.Piece(*id)
		if err != nil {
			return err
		}
		uri, _ := a.engine.TokenURI(*id)
		col := a.engine.Collection()
		fmt.Print(fmtTable(fmt.Sprintf("%s #%d", col.Symbol, p.ID), []string{"Owner", "Approved", "Season", "Zone", "URI"}, map[string]string{
			"Owner":    p.Owner.Hex(),
			"Approved": p.Approved.Hex(),
			"Season":   strconv.Itoa(p.Season),
			"Zone":     strconv.Itoa(p.Zone),
			"URI":      uri,
		}))
		return nil
	})
}

func eventsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	cf := addCommon(fs)
	since := fs.Uint64("since", 0, "first event seq")
	kind := fs.String("kind", "", "only events of this kind (e.g. SetZoneData)")
	limit := fs.Int("limit", 0, "max events (0 = all)")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		evs, err := a.engine.Events(ctx, *since, ledger.Kind(*kind), *limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, e := range evs {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func snapshotCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	cf := addCommon(fs)
	out := fs.String("out", "", "output path (default: <data>/snapshots/<seq>.snap.zst)")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		snap := a.engine.Snapshot()
		path := *out
		if path == "" {
			path = fmt.Sprintf("%s/%d.snap.zst", a.cfg.SnapshotDir(), snap.Header.NextEvent)
		}
		if err := snapshot.Write(path, snap); err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	})
}

func restoreCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	cf := addCommon(fs)
	in := fs.String("in", "", "snapshot path")
	return withApp(ctx, fs, cf, args, func(a *app) error {
		if *in == "" {
			return errors.New("missing -in")
		}
		snap, err := snapshot.Read(*in)
		if err != nil {
			return err
		}
		if err := a.engine.Restore(ctx, snap); err != nil {
			return err
		}
		fmt.Printf("restored season %d (%d pieces) from %s\n", snap.Header.Season, snap.Header.Pieces, *in)
		return nil
	})
}

func mirrorCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mirror-archives", flag.ExitOnError)
	cf := addCommon(fs)
	return withApp(ctx, fs, cf, args, func(a *app) error {
		if a.mirror == nil {
			return errors.New("mirror is not configured (mirror.endpoint / DUZZLE_MIRROR_ENDPOINT)")
		}
		archives, err := a.store.Archives(ctx)
		if err != nil {
			return err
		}
		for _, ar := range archives {
			if err := a.mirror.UploadDir(ctx, archive.Dir(a.cfg.DataDir, ar.Season)); err != nil {
				return err
			}
		}
		st := a.mirror.Stats()
		fmt.Printf("uploaded %d files from %d archives\n", st.Uploaded, len(archives))
		return nil
	})
}
