package activity

import (
	"context"

	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
)

// ObserveNotice records engine activity. It is shaped for
// reconcile.Options.OnNotice. Redelivered events are logged once.
func (j *Journal) ObserveNotice(notice reconcile.Notice) {
	ctx := context.Background()
	switch notice.Kind {
	case reconcile.NoticeAttached:
		j.Record(ctx, notice.Account, SeverityNeutral, "activity.connected")
	case reconcile.NoticeDetached:
		j.Record(ctx, notice.Account, SeverityNeutral, "activity.disconnected")
	case reconcile.NoticeEvent:
		if !j.firstSighting(notice.Event.Key()) {
			return
		}
		j.recordEvent(ctx, notice.Event)
	case reconcile.NoticeRefreshFailed:
		j.Record(ctx, notice.Account, SeverityLoss, "activity.refresh_failed", errorText(notice.Err))
	case reconcile.NoticeChannelDropped:
		j.Record(ctx, notice.Account, SeverityLoss, "activity.channel_dropped")
	case reconcile.NoticeResubscribed:
		j.Record(ctx, notice.Account, SeverityNeutral, "activity.resubscribed")
	}
}

func (j *Journal) recordEvent(ctx context.Context, event domain.RemoteEvent) {
	account := event.Account
	switch event.Kind {
	case domain.EventGameStarted:
		j.Record(ctx, account, SeverityNeutral, "activity.game_started")
	case domain.EventDiceRolled:
		j.Record(ctx, account, SeverityNeutral, "activity.dice_rolled", event.Roll.Uint64(), event.NewPosition.Uint64())
	case domain.EventProfitLanded:
		j.Record(ctx, account, SeverityProfit, "activity.profit_landed", event.Amount.Dec())
	case domain.EventLossLanded:
		j.Record(ctx, account, SeverityLoss, "activity.loss_landed", event.Amount.Dec())
	case domain.EventTokensMinted:
		j.Record(ctx, account, SeverityProfit, "activity.tokens_minted", event.Amount.Dec())
	case domain.EventTokensBurned:
		j.Record(ctx, account, SeverityLoss, "activity.tokens_burned", event.Amount.Dec())
	case domain.EventPointEarned:
		j.Record(ctx, account, SeverityProfit, "activity.point_earned", event.Points.Uint64())
	}
}

var failureKeys = map[domain.Command]string{
	domain.CommandMint:  "activity.mint_failed",
	domain.CommandStart: "activity.start_failed",
	domain.CommandRoll:  "activity.roll_failed",
	domain.CommandClaim: "activity.claim_failed",
	domain.CommandEnd:   "activity.end_failed",
	domain.CommandBurn:  "activity.burn_failed",
}

// RecordCommand logs the outcome of a submitted command. Confirmed commands
// are logged quietly; the ledger events they cause carry the details.
func (j *Journal) RecordCommand(ctx context.Context, account domain.AccountID, command domain.Command, block uint64, err error) Entry {
	if err == nil {
		return j.Record(ctx, account, SeverityNeutral, "activity.command_confirmed", string(command), block)
	}
	key, ok := failureKeys[command]
	if !ok {
		key = "activity.refresh_failed"
	}
	return j.Record(ctx, account, SeverityLoss, key, errorText(err))
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
