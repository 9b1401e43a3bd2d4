// Package commands wires the operator-facing command set: running the
// ingestion pipeline on demand, editing tenant settings, and inspecting
// scheduler state.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"spotbot/internal/router"
	"spotbot/internal/scheduler"
	"spotbot/internal/storage"
	"spotbot/pkg/logx"
)

type Deps struct {
	Store storage.Store
	Sched *scheduler.Service
	Log   logx.Logger
}

// Register installs all built-in commands on the router.
func Register(r *router.Router, d Deps) error {
	return r.Register(
		postCommand(d),
		postAllCommand(d),
		configureCommand(d),
		tenantsCommand(d),
		helpCommand(r),
	)
}

// tenantIDFor maps an interaction to its tenant: an explicit argument wins,
// otherwise the invoking chat is the tenant.
func tenantIDFor(req *router.Request) string {
	if len(req.Interaction.Args) > 0 {
		return req.Interaction.Args[0]
	}
	return strconv.FormatInt(req.Interaction.Principal.ChatID, 10)
}

func postCommand(d Deps) router.Command {
	return router.Command{
		Name:        "post",
		Description: "Post a fresh find now (optionally: post <tenant-id>)",
		Elevated:    true,
		AutoAck:     true,
		Handle: func(ctx context.Context, req *router.Request) error {
			id := tenantIDFor(req)
			if _, err := d.Store.FindTenant(ctx, id); err != nil {
				return fmt.Errorf("tenant %s: %w", id, err)
			}
			// The sweep can take a while; ack now, post when ready.
			go func() {
				if err := d.Sched.RunNow(context.Background(), id); err != nil {
					d.Log.Error("on-demand run failed", logx.String("tenant", id), logx.Err(err))
				}
			}()
			return nil
		},
	}
}

func postAllCommand(d Deps) router.Command {
	return router.Command{
		Name:        "postall",
		Description: "Post a fresh find for every enabled tenant",
		Elevated:    true,
		AutoAck:     true,
		Handle: func(ctx context.Context, req *router.Request) error {
			go func() {
				if err := d.Sched.RunAllNow(context.Background()); err != nil {
					d.Log.Error("on-demand run-all failed", logx.Err(err))
				}
			}()
			return nil
		},
	}
}

func configureCommand(d Deps) router.Command {
	return router.Command{
		Name: "configure",
		Description: "Set tenant settings: configure [tenant=<id>] project=<id> channel=<ref> " +
			"[pages=<n>] [enabled=true|false] [schedule=<cron pattern, rest of line>]",
		Elevated: true,
		Handle: func(ctx context.Context, req *router.Request) error {
			// First pass only to learn the target id (tenant= may override
			// the invoking chat).
			var scratch storage.Tenant
			if err := applySettings(&scratch, req.Interaction.Args); err != nil {
				return req.Interaction.Respond.Reply(ctx, "Could not parse that: "+err.Error())
			}
			id := scratch.ID
			if id == "" {
				id = strconv.FormatInt(req.Interaction.Principal.ChatID, 10)
			}

			t, err := d.Store.FindTenant(ctx, id)
			if err != nil && !isNotFound(err) {
				return err
			}
			if isNotFound(err) {
				t = storage.Tenant{ID: id, Schedule: "0 * * * *", Enabled: true}
			}
			if err := applySettings(&t, req.Interaction.Args); err != nil {
				return req.Interaction.Respond.Reply(ctx, "Could not parse that: "+err.Error())
			}
			if t.ProjectID == "" || t.Channel == "" {
				return req.Interaction.Respond.Reply(ctx, "Both project= and channel= are required before a tenant can run.")
			}
			if _, err := cron.ParseStandard(t.Schedule); err != nil {
				return req.Interaction.Respond.Reply(ctx, "Invalid schedule pattern: "+err.Error())
			}

			t.ID = id
			t.UpdatedAt = time.Now()
			if err := d.Store.UpsertTenant(ctx, t); err != nil {
				return fmt.Errorf("saving tenant %s: %w", id, err)
			}
			if err := d.Sched.Refresh(ctx); err != nil {
				return fmt.Errorf("restarting schedules: %w", err)
			}

			state := "disabled"
			if t.Enabled {
				state = "enabled"
			}
			return req.Interaction.Respond.Reply(ctx, fmt.Sprintf(
				"Saved. Tenant %s is %s: project %s -> channel %s on '%s'.",
				t.ID, state, t.ProjectID, t.Channel, t.Schedule,
			))
		},
	}
}

// applySettings parses key=value arguments. schedule= consumes the rest of
// the line since cron patterns contain spaces.
func applySettings(t *storage.Tenant, args []string) error {
	for i := 0; i < len(args); i++ {
		key, value, ok := strings.Cut(args[i], "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", args[i])
		}
		switch key {
		case "tenant":
			t.ID = value
		case "project":
			t.ProjectID = value
		case "channel":
			t.Channel = value
		case "pages":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("pages must be a non-negative number, got %q", value)
			}
			t.Pages = n
		case "enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("enabled must be true or false, got %q", value)
			}
			t.Enabled = b
		case "schedule":
			parts := append([]string{value}, args[i+1:]...)
			t.Schedule = strings.TrimSpace(strings.Join(parts, " "))
			return nil
		default:
			return fmt.Errorf("unknown setting %q", key)
		}
	}
	return nil
}

func tenantsCommand(d Deps) router.Command {
	return router.Command{
		Name:        "tenants",
		Description: "List tenants and their schedule state",
		Elevated:    true,
		Handle: func(ctx context.Context, req *router.Request) error {
			snap := d.Sched.Snapshot()
			if len(snap) == 0 {
				return req.Interaction.Respond.Reply(ctx, "No tenants configured yet. Use /configure to add one.")
			}
			var b strings.Builder
			for _, js := range snap {
				state := "off"
				if js.Enabled {
					state = "on"
				}
				fmt.Fprintf(&b, "%s [%s] '%s'", js.TenantID, state, js.Schedule)
				if !js.Next.IsZero() {
					fmt.Fprintf(&b, " next %s", js.Next.Format("2006-01-02 15:04"))
				}
				if !js.LastAt.IsZero() {
					fmt.Fprintf(&b, " last %s", js.LastAt.Format("15:04:05"))
					if js.LastErr != "" {
						fmt.Fprintf(&b, " (failed: %s)", js.LastErr)
					}
				}
				b.WriteString("\n")
			}
			return req.Interaction.Respond.Reply(ctx, strings.TrimRight(b.String(), "\n"))
		},
	}
}

func helpCommand(r *router.Router) router.Command {
	return router.Command{
		Name:        "help",
		Description: "List available commands",
		Handle: func(ctx context.Context, req *router.Request) error {
			var b strings.Builder
			for _, c := range r.Commands() {
				fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
			}
			return req.Interaction.Respond.Reply(ctx, strings.TrimRight(b.String(), "\n"))
		},
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrTenantNotFound)
}
