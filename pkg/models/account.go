package models

import "encoding/json"

type Account struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Balance   float64 `json:"balance"`
	CanTrade  bool    `json:"canTrade"`
	IsVisible bool    `json:"isVisible"`
	Simulated bool    `json:"simulated"`
}

type AccountSearchResult struct {
	AccountCount int               `json:"accountCount"`
	Accounts     []Account         `json:"accounts"`
	RawAccounts  []json.RawMessage `json:"rawAccounts"` // unmapped gateway records
}
