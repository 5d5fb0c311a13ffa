package web

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
)

// Token amounts are decimal strings; they do not fit a JSON number.
type snapshotResponse struct {
	Account            string `json:"account"`
	Position           uint64 `json:"position"`
	Balance            string `json:"balance"`
	HasStarted         bool   `json:"hasStarted"`
	PointsEarned       string `json:"pointsEarned"`
	NextRequiredAmount string `json:"nextRequiredAmount"`
	TotalSupply        string `json:"totalSupply"`
	WinnerCount        string `json:"winnerCount"`
	HasMinted          bool   `json:"hasMinted"`
	TokenBalance       string `json:"tokenBalance"`
	NativeBalance      string `json:"nativeBalance"`
	CanClaim           bool   `json:"canClaim"`
	AsOfBlock          uint64 `json:"asOfBlock"`
}

func newSnapshotResponse(s domain.Snapshot) snapshotResponse {
	return snapshotResponse{
		Account:            s.Account.String(),
		Position:           s.Position,
		Balance:            s.Balance.Dec(),
		HasStarted:         s.HasStarted,
		PointsEarned:       s.PointsEarned.Dec(),
		NextRequiredAmount: s.NextRequiredAmount.Dec(),
		TotalSupply:        s.TotalSupply.Dec(),
		WinnerCount:        s.WinnerCount.Dec(),
		HasMinted:          s.HasMinted,
		TokenBalance:       s.TokenBalance.Dec(),
		NativeBalance:      s.NativeBalance.Dec(),
		CanClaim:           s.CanClaim(),
		AsOfBlock:          s.AsOfBlock,
	}
}

type snapshotEnvelope struct {
	State    string           `json:"state"`
	Cached   bool             `json:"cached"`
	Snapshot snapshotResponse `json:"snapshot"`
}

type statusResponse struct {
	State         string `json:"state"`
	Account       string `json:"account,omitempty"`
	PushSuspended bool   `json:"pushSuspended"`
	Refreshing    bool   `json:"refreshing"`
	Refreshes     int    `json:"refreshes"`
	LastError     string `json:"lastError,omitempty"`
}

func newStatusResponse(status reconcile.Status) statusResponse {
	resp := statusResponse{
		State:         status.State.String(),
		PushSuspended: status.PushSuspended,
		Refreshing:    status.Refreshing,
		Refreshes:     status.Refreshes,
	}
	if !status.Account.IsZero() {
		resp.Account = status.Account.String()
	}
	if status.LastError != nil {
		resp.LastError = status.LastError.Error()
	}
	return resp
}

type tileResponse struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Value int64  `json:"value"`
	Label string `json:"label"`
}

func newTileResponse(tile domain.TileInfo) tileResponse {
	return tileResponse{
		Index: tile.Index,
		Name:  tile.Name,
		Kind:  tile.Kind.String(),
		Value: tile.Value,
		Label: tile.Label(),
	}
}

type entryResponse struct {
	ID        string    `json:"id"`
	Account   string    `json:"account,omitempty"`
	Severity  string    `json:"severity"`
	Key       string    `json:"key"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func newEntryResponse(entry activity.Entry) entryResponse {
	resp := entryResponse{
		ID:        entry.ID.String(),
		Severity:  string(entry.Severity),
		Key:       entry.Key,
		Message:   entry.Message,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if !entry.Account.IsZero() {
		resp.Account = entry.Account.String()
	}
	return resp
}

type commandResponse struct {
	Command     string `json:"command"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

type accountRequest struct {
	Account string `json:"account"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// httpStatusFor maps an error code to the HTTP status a client should see.
func httpStatusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeInvalidSnapshot:
		return http.StatusBadRequest
	case apperrors.CodeRejected:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeNotAttached, apperrors.CodeAlreadyAttached, apperrors.CodeUnsupported, apperrors.CodeDetached:
		return http.StatusConflict
	case apperrors.CodeTransactionFailed:
		return http.StatusUnprocessableEntity
	case apperrors.CodeRemoteUnavailable, apperrors.CodeChannelDropped:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, httpStatusFor(code), errorResponse{Error: err.Error(), Code: string(code)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
