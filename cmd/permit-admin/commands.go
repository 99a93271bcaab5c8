package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/platinummonkey/permit/pkg/audit"
	"github.com/platinummonkey/permit/pkg/config"
	"github.com/platinummonkey/permit/pkg/rbac"
	"github.com/platinummonkey/permit/pkg/storage"
)

type command struct {
	description string
	run         func(ctx context.Context, env *adminEnv, args []string) error
}

var commands = map[string]command{
	"migrate":      {"Apply database migrations", runMigrate},
	"bootstrap":    {"Seed system roles, permissions and an optional catalog", runBootstrap},
	"create-user":  {"Create a user with an optional role", runCreateUser},
	"audit-export": {"Export the audit trail to a file or S3", runAuditExport},
	"audit-purge":  {"Delete audit events older than the retention window", runAuditPurge},
}

func runMigrate(ctx context.Context, env *adminEnv, args []string) error {
	if err := rbac.RunMigrations(ctx, env.db, env.dialect, env.engine); err != nil {
		return err
	}
	env.log.Info("Migrations applied")
	return nil
}

func runBootstrap(ctx context.Context, env *adminEnv, args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	catalogFile := fs.String("catalog", env.cfg.Catalog.File, "YAML catalog to seed on top of the system roles")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var catalog rbac.Catalog
	if *catalogFile != "" {
		var err error
		if catalog, err = config.LoadCatalog(*catalogFile); err != nil {
			return err
		}
	}

	store := rbac.NewStore(env.db, env.dialect)
	b := rbac.NewBootstrapper(store, env.engine, rbac.WithMigrations(true))
	if err := b.Init(ctx); err != nil {
		return err
	}
	result, err := b.Reseed(ctx, catalog)
	if err != nil {
		return err
	}

	env.log.WithFields(map[string]interface{}{
		"catalog":             *catalogFile,
		"roles_created":       result.RolesCreated,
		"permissions_created": result.PermissionsCreated,
		"links_created":       result.LinksCreated,
	}).Info("Bootstrap complete")
	return nil
}

func runCreateUser(ctx context.Context, env *adminEnv, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	username := fs.String("username", "", "Username")
	roleName := fs.String("role", "", "Role name (empty for no role)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("username is required")
	}

	store := rbac.NewStore(env.db, env.dialect)
	var roleID *int64
	if *roleName != "" {
		role, err := store.GetRoleByName(ctx, *roleName)
		if err != nil {
			return fmt.Errorf("role %s: %w", *roleName, err)
		}
		roleID = &role.ID
	}

	user, err := store.CreateUser(ctx, *username, roleID)
	if err != nil {
		return err
	}
	env.log.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.RoleName,
	}).Info("User created")
	return nil
}

// uploader stores an export; *storage.S3Writer implements it
type uploader interface {
	Put(ctx context.Context, key string, content io.Reader, contentType string) (string, error)
}

// newUploader is replaced in tests
var newUploader = func(ctx context.Context, cfg storage.S3Config) (uploader, error) {
	return storage.NewS3Writer(ctx, cfg)
}

func runAuditExport(ctx context.Context, env *adminEnv, args []string) error {
	fs := flag.NewFlagSet("audit-export", flag.ContinueOnError)
	format := fs.String("format", string(audit.ExportFormatNDJSON), "Export format (ndjson, csv)")
	since := fs.Duration("since", 24*time.Hour, "Export events newer than this")
	out := fs.String("out", "-", "Output file, - for stdout")
	toS3 := fs.Bool("s3", false, "Upload to the PERMIT_S3_BUCKET bucket instead of writing a file")
	key := fs.String("key", "", "S3 object key (default audit/<timestamp>.<format>)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	trail, err := audit.NewDBLogger(ctx, env.db, env.dialect)
	if err != nil {
		return err
	}

	from := time.Now().UTC().Add(-*since)
	filter := audit.Filter{Since: &from}

	var buf bytes.Buffer
	n, err := trail.Export(ctx, &buf, filter, audit.ExportFormat(*format))
	if err != nil {
		return err
	}

	if *toS3 {
		objectKey := *key
		if objectKey == "" {
			objectKey = fmt.Sprintf("audit/%s.%s", time.Now().UTC().Format("20060102T150405Z"), *format)
		}
		up, err := newUploader(ctx, env.cfg.S3)
		if err != nil {
			return err
		}
		contentType := "application/x-ndjson"
		if audit.ExportFormat(*format) == audit.ExportFormatCSV {
			contentType = "text/csv"
		}
		checksum, err := up.Put(ctx, objectKey, &buf, contentType)
		if err != nil {
			return err
		}
		env.log.WithFields(map[string]interface{}{
			"events": n, "bucket": env.cfg.S3.Bucket, "key": objectKey, "sha256": checksum,
		}).Info("Audit trail uploaded")
		return nil
	}

	w := io.Writer(os.Stdout)
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	env.log.WithField("events", n).Info("Audit trail exported")
	return nil
}

func runAuditPurge(ctx context.Context, env *adminEnv, args []string) error {
	fs := flag.NewFlagSet("audit-purge", flag.ContinueOnError)
	retention := fs.Duration("retention", env.cfg.Audit.Retention, "Keep events newer than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *retention <= 0 {
		return errors.New("retention must be positive (-retention or PERMIT_AUDIT_RETENTION)")
	}

	trail, err := audit.NewDBLogger(ctx, env.db, env.dialect)
	if err != nil {
		return err
	}
	n, err := trail.Purge(ctx, *retention)
	if err != nil {
		return err
	}
	env.log.WithField("deleted", n).Info("Audit trail purged")
	return nil
}
