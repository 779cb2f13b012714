package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/loanadmin/pkg/audit"
	"github.com/platinummonkey/loanadmin/pkg/menus"
	"github.com/platinummonkey/loanadmin/pkg/rbac"
)

const defaultDebounce = 500 * time.Millisecond

// ApplyResult describes one catalog application
type ApplyResult struct {
	Roles  *rbac.SeedResult
	Menus  *menus.SeedResult
	Pruned []int64
}

func newApplyCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "apply",
		Description: "Seed permissions, roles and menus from a catalog",
		Flags:       newFlagSet("apply", env.out()),
	}
	catalogPath := cmd.Flags.String("catalog", "", "Catalog file (defaults to the embedded catalog)")
	prune := cmd.Flags.Bool("prune-menus", false, "Delete global menus the catalog no longer defines")
	watch := cmd.Flags.Bool("watch", false, "Re-apply the catalog whenever the file changes")
	debounce := cmd.Flags.Duration("debounce", defaultDebounce, "Quiet period before re-applying a changed catalog")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *watch && *catalogPath == "" {
			return fmt.Errorf("-watch requires -catalog")
		}

		applyOnce := func(ctx context.Context) error {
			catalog := rbac.DefaultCatalog()
			if *catalogPath != "" {
				var err error
				if catalog, err = rbac.LoadCatalog(*catalogPath); err != nil {
					return err
				}
			}
			result, err := Apply(ctx, env, catalog, *prune)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.out(), "applied catalog: %d permissions, %d roles (%d new), %d menus (%d new), %d pruned\n",
				result.Roles.Permissions, len(result.Roles.Roles), len(result.Roles.CreatedRoles),
				result.Menus.Menus, result.Menus.CreatedMenus, len(result.Pruned))
			return nil
		}

		if err := applyOnce(ctx); err != nil {
			return err
		}
		if !*watch {
			return nil
		}

		watcher, err := newCatalogWatcher(*catalogPath)
		if err != nil {
			return err
		}
		defer watcher.Close()

		env.Logger.WithField("catalog", *catalogPath).Info("watching catalog for changes")
		watchCatalog(ctx, env, watcher, *catalogPath, *debounce, applyOnce)
		return nil
	}
	return cmd
}

// Apply seeds the catalog, optionally prunes menus it no longer defines,
// drops every cached capability set and records the run in the audit log.
func Apply(ctx context.Context, env *Env, catalog *rbac.Catalog, prune bool) (*ApplyResult, error) {
	roles, err := rbac.Seed(ctx, env.DB, catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to seed roles: %w", err)
	}

	seeded, err := menus.SeedCatalog(ctx, env.DB, catalog, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to seed menus: %w", err)
	}

	result := &ApplyResult{Roles: roles, Menus: seeded}
	if prune {
		if result.Pruned, err = menus.PruneMenus(ctx, menus.NewStore(env.DB, nil), catalog); err != nil {
			return nil, fmt.Errorf("failed to prune menus: %w", err)
		}
	}

	if roles.ReclosedGrants > 0 {
		env.Logger.WithField("grants", roles.ReclosedGrants).Warn("granted missing parent permissions to existing roles")
	}

	// Hierarchy edges may have changed for every role.
	checker := rbac.NewManager(env.DB, catalog, env.Cache, env.Redis, nil, env.Logger).GetChecker()
	if err := checker.InvalidateAll(ctx); err != nil {
		env.Logger.WithError(err).Warn("failed to invalidate capability cache")
	}

	details := map[string]interface{}{
		"permissions":     roles.Permissions,
		"hierarchy_edges": roles.HierarchyEdges,
		"reclosed_grants": roles.ReclosedGrants,
		"roles_created":   len(roles.CreatedRoles),
		"menus_created":   seeded.CreatedMenus,
		"role_menus":      seeded.RoleMenus,
		"menus_pruned":    len(result.Pruned),
	}
	if err := env.audit().LogDataMutation(ctx, audit.EventTypeAdminCatalogSeed, audit.ResourceTypeCatalog,
		catalog.Version, "catalog applied", details); err != nil {
		env.Logger.WithError(err).Warn("failed to record catalog audit event")
	}
	return result, nil
}

// newCatalogWatcher watches the catalog's directory; editors often replace
// the file rather than writing it in place.
func newCatalogWatcher(path string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	return watcher, nil
}

// watchCatalog re-runs apply once writes to path settle, until ctx is done.
// Failed runs are logged and the watch continues.
func watchCatalog(ctx context.Context, env *Env, watcher *fsnotify.Watcher, path string, debounce time.Duration, apply func(context.Context) error) {
	target := filepath.Clean(path)
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(debounce)
			}
		case <-timer.C:
			env.Logger.WithField("catalog", path).Info("catalog changed, re-applying")
			if err := apply(ctx); err != nil {
				env.Logger.WithError(err).Error("failed to apply catalog")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			env.Logger.WithError(err).Warn("catalog watcher error")
		}
	}
}
