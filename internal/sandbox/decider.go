package sandbox

import (
	"math"
	"math/rand"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
)

// Decider settles a pending payment into success or failed with a reason.
type Decider interface {
	Decide() (payment.GatewayStatus, string)
}

var refusalReasons = []string{
	"",
	"insufficient_funds",
	"subscriber_unreachable",
	"pin_rejected",
	"transaction_limit_exceeded",
	"request_expired",
}

// RandomDecider approves SuccessPercent out of every hundred payments.
type RandomDecider struct {
	SuccessPercent int
}

func NewRandomDecider(failureRate float64) RandomDecider {
	return RandomDecider{SuccessPercent: 100 - int(math.Round(failureRate*100))}
}

func (r RandomDecider) Decide() (payment.GatewayStatus, string) {
	randomInt := rand.Intn(100)
	return calcStatus(randomInt, r.SuccessPercent)
}

func calcStatus(randomInt, successPercent int) (payment.GatewayStatus, string) {
	if randomInt < successPercent {
		return payment.GatewayStatusSuccess, ""
	}
	reason := randomInt - successPercent
	if reason == 0 || reason >= len(refusalReasons) {
		return payment.GatewayStatusFailed, "unknown reason"
	}
	return payment.GatewayStatusFailed, refusalReasons[reason]
}

// FixedDecider always settles with the same status.
type FixedDecider payment.GatewayStatus

func (f FixedDecider) Decide() (payment.GatewayStatus, string) {
	status := payment.GatewayStatus(f)
	if status == payment.GatewayStatusFailed {
		return status, "insufficient_funds"
	}
	return status, ""
}
