package dynamodb

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// PK/SK prefix constants.
const (
	prefixRun      = "RUN#"
	prefixPipeline = "PIPELINE#"
	prefixEvent    = "EVENT#"
	prefixApproval = "APPROVAL#"
	prefixCounter  = "COUNTER#"

	skTruth    = "TRUTH"
	skCounter  = "VALUE"
	skApproval = "APPROVAL"

	gsiPendingPK = "PENDING_APPROVALS"
)

func runPK(runID string) string        { return prefixRun + runID }
func pipelinePK(pipeline string) string { return prefixPipeline + pipeline }
func approvalPK(id string) string      { return prefixApproval + id }
func counterPK(pipeline string) string { return prefixCounter + pipeline }

func runListSK(createdAt time.Time, runID string) string {
	return prefixRun + createdAt.UTC().Format(time.RFC3339Nano) + "#" + runID
}

func eventSK(ts time.Time) string {
	nonce := make([]byte, 4)
	_, _ = rand.Read(nonce)
	return fmt.Sprintf("%s%013d#%s", prefixEvent, ts.UnixMilli(), hex.EncodeToString(nonce))
}
