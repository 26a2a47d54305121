package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/outbox"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and requeue dead-lettered outbox events",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter, err := dlqFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		ctx, _, dbClient, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer closeLogged(ctx, "database", dbClient.Close)

		rows, err := outbox.NewDLQRepository(dbClient.DB()).List(ctx, filter)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT_ID\tEVENT_TYPE\tREASON\tATTEMPTS\tFAILED_AT\tERROR")
		for _, row := range rows {
			msg := ""
			if row.ErrorMessage != nil {
				msg = *row.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				row.EventID, row.EventType, row.ErrorReason, row.AttemptCount,
				row.FailedAt.UTC().Format(time.RFC3339), msg)
		}
		return w.Flush()
	},
}

var dlqRequeueCmd = &cobra.Command{
	Use:   "requeue EVENT_ID...",
	Short: "Return dead-lettered events to the outbox with a fresh attempt budget",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}
		ctx, _, dbClient, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		defer closeLogged(ctx, "database", dbClient.Close)

		repo := outbox.NewDLQRepository(dbClient.DB())
		for _, id := range ids {
			if err := repo.Requeue(ctx, id); err != nil {
				return fmt.Errorf("requeue %s: %w", id, err)
			}
			logg.Info(logg.WithField(ctx, "event_id", id.String()), "dead letter requeued")
			fmt.Fprintln(cmd.OutOrStdout(), "requeued", id)
		}
		return nil
	},
}

func init() {
	dlqListCmd.Flags().String("event-type", "", "only list this event type")
	dlqListCmd.Flags().String("reason", "", "only list this reason (max_attempts, non_retryable, unknown_event)")
	dlqListCmd.Flags().Int("limit", 50, "maximum rows to print")
	dlqCmd.AddCommand(dlqListCmd, dlqRequeueCmd)
}

func dlqFilterFromFlags(cmd *cobra.Command) (outbox.DLQFilter, error) {
	var filter outbox.DLQFilter
	eventType, _ := cmd.Flags().GetString("event-type")
	if eventType != "" {
		filter.EventType = enums.OutboxEventType(eventType)
		if !filter.EventType.IsValid() {
			return filter, fmt.Errorf("invalid event type %q", eventType)
		}
	}
	if reason, _ := cmd.Flags().GetString("reason"); reason != "" {
		parsed, err := enums.ParseOutboxDLQErrorReason(reason)
		if err != nil {
			return filter, err
		}
		filter.Reason = parsed
	}
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	return filter, nil
}
