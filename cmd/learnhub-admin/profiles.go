package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/target/learnhub/internal/bootstrap"
	"github.com/target/learnhub/internal/data"
	domainauth "github.com/target/learnhub/internal/domain/auth"
)

// profileAdmin is the slice of the profile repository the CLI needs.
type profileAdmin interface {
	GetProfile(ctx context.Context, id string) (*domainauth.UserProfile, error)
	SetRole(ctx context.Context, id string, role domainauth.Role) error
	SetActive(ctx context.Context, id string, active bool) error
}

type profileOptions struct {
	ID   string
	Role string
	JSON bool
}

func parseProfileFlags(name string, args []string, withRole bool) (profileOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts profileOptions
	fs.StringVar(&opts.ID, "id", "", "Profile (identity subject) id")
	if withRole {
		fs.StringVar(&opts.Role, "role", "", "Role to assign: admin, teacher or student")
	} else {
		fs.BoolVar(&opts.JSON, "json", false, "Print the profile as JSON")
	}
	if err := fs.Parse(args); err != nil {
		return profileOptions{}, err
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return profileOptions{}, errors.New("--id is required")
	}
	if withRole && strings.TrimSpace(opts.Role) == "" {
		return profileOptions{}, errors.New("--role is required")
	}
	return opts, nil
}

func withProfiles(cmdCtx *commandContext, f func(context.Context, profileAdmin) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func(db *sql.DB) {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}(db)

	return f(ctx, data.NewProfileRepo(db))
}

func runShowProfile(cmdCtx *commandContext, args []string) error {
	opts, err := parseProfileFlags("show-profile", args, false)
	if err != nil {
		return err
	}
	return withProfiles(cmdCtx, func(ctx context.Context, store profileAdmin) error {
		return showProfile(ctx, store, opts, cmdCtx.Out)
	})
}

func showProfile(ctx context.Context, store profileAdmin, opts profileOptions, w io.Writer) error {
	p, err := store.GetProfile(ctx, opts.ID)
	if err != nil {
		return fmt.Errorf("get profile %s: %w", opts.ID, err)
	}
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", p.ID},
		{"Email", p.Email},
		{"Name", p.Name},
		{"Role", string(p.Role)},
		{"Active", fmt.Sprintf("%t", p.Active())},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runSetRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseProfileFlags("set-role", args, true)
	if err != nil {
		return err
	}
	return withProfiles(cmdCtx, func(ctx context.Context, store profileAdmin) error {
		return setRole(ctx, store, opts, cmdCtx.Out)
	})
}

func setRole(ctx context.Context, store profileAdmin, opts profileOptions, w io.Writer) error {
	role, err := domainauth.ParseRole(opts.Role)
	if err != nil {
		return err
	}
	if err := store.SetRole(ctx, opts.ID, role); err != nil {
		return fmt.Errorf("set role for %s: %w", opts.ID, err)
	}
	return writef(w, "%s is now %s; open sessions pick it up on their next session check\n", opts.ID, role)
}

func runActivate(cmdCtx *commandContext, args []string) error {
	return runSetActive(cmdCtx, "activate", args, true)
}

func runDeactivate(cmdCtx *commandContext, args []string) error {
	return runSetActive(cmdCtx, "deactivate", args, false)
}

func runSetActive(cmdCtx *commandContext, name string, args []string, active bool) error {
	opts, err := parseProfileFlags(name, args, false)
	if err != nil {
		return err
	}
	return withProfiles(cmdCtx, func(ctx context.Context, store profileAdmin) error {
		return setActive(ctx, store, opts.ID, active, cmdCtx.Out)
	})
}

func setActive(ctx context.Context, store profileAdmin, id string, active bool, w io.Writer) error {
	p, err := store.GetProfile(ctx, id)
	if err != nil {
		return fmt.Errorf("get profile %s: %w", id, err)
	}
	if p.Role != domainauth.RoleStudent {
		return writef(w, "%s is a %s; activation only gates students, nothing changed\n", id, p.Role)
	}
	if p.IsActive == active {
		return writef(w, "%s already has active=%t\n", id, active)
	}
	if err := store.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("set activation for %s: %w", id, err)
	}
	return writef(w, "%s active=%t\n", id, active)
}
