package models

import "fmt"

type PositionType int

const (
	PositionTypeLong  PositionType = 1
	PositionTypeShort PositionType = 2
)

func (p PositionType) String() string {
	switch p {
	case PositionTypeLong:
		return "long"
	case PositionTypeShort:
		return "short"
	}
	return fmt.Sprintf("PositionType(%d)", int(p))
}

// Position is an open position on one contract. CreationTimestamp is kept
// as the gateway sent it.
type Position struct {
	ID                int64        `json:"id"`
	AccountID         int64        `json:"accountId"`
	ContractID        string       `json:"contractId"`
	CreationTimestamp string       `json:"creationTimestamp"`
	Type              PositionType `json:"type"`
	Size              int          `json:"size"`
	AveragePrice      float64      `json:"averagePrice"`
}
