package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/store"
	"github.com/Aman-CERP/indexsync/internal/work"
)

func newEnqueueCmd(flags *globalFlags) *cobra.Command {
	var (
		kind    string
		fields  []string
		noStore bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue <entity-type> [identifier]",
		Short: "Apply one entity change as a unit of work",
		Long: `Apply one entity change to its index as a unit of work.

ADD and UPDATE also save the entity to the entity store, DELETE and PURGE
remove it, so a later reindex agrees with the index. PURGE_ALL and OPTIMIZE
take no identifier.`,
		Example: `  indexsync enqueue Book 42 --kind ADD --field title=Dune --field genre=scifi
  indexsync enqueue Book 42 --kind DELETE
  indexsync enqueue Book --kind PURGE_ALL`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := work.ParseKind(strings.ToUpper(kind))
			if err != nil {
				return err
			}
			parsed, err := parseAssignments(fields)
			if err != nil {
				return err
			}
			identifier := ""
			if len(args) == 2 {
				identifier = args[1]
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			uow := a.engine.Begin()
			if err := uow.Enqueue(args[0], identifier, k, parsed); err != nil {
				uow.Rollback()
				return err
			}
			if !noStore {
				if err := syncEntityStore(cmd, a.entities, args[0], identifier, k, parsed); err != nil {
					uow.Rollback()
					return err
				}
			}
			if err := uow.Commit(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s applied (unit of work %s)\n", k, args[0], identifier, uow.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "ADD", "Work kind: ADD, UPDATE, DELETE, PURGE, PURGE_ALL, OPTIMIZE")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Document field as name=value (repeatable)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not update the entity store")
	return cmd
}

// parseAssignments turns name=value pairs into a map.
func parseAssignments(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, ierrors.ValidationError(fmt.Sprintf("expected name=value, got %q", p), nil)
		}
		out[name] = value
	}
	return out, nil
}

func syncEntityStore(cmd *cobra.Command, es *store.EntityStore, entityType, identifier string, k work.Kind, fields map[string]string) error {
	if identifier == "" {
		return nil
	}
	id, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		// The store keys entities by integer; other identifiers are index-only.
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "identifier %q is not numeric; entity store not updated\n", identifier)
		return nil
	}
	ctx := cmd.Context()
	switch k {
	case work.KindAdd, work.KindUpdate:
		return es.Save(ctx, store.Entity{Type: entityType, ID: id, Fields: fields})
	case work.KindDelete, work.KindPurge:
		return es.Delete(ctx, entityType, id)
	}
	return nil
}
