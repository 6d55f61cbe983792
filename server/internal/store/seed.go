package store

import (
	"context"
	"fmt"
	"time"

	"fraud-call/server/internal/model"
)

// Seed 写入一组演示数据：一张卡的若干笔交易，其中一笔被风控拦下并开了告警。
// 本地调试和 -interactive 模式都从这组数据起步。
func Seed(ctx context.Context, s *Store) error {
	now := time.Now()
	card := "4539876512340001"

	txs := []*model.Transaction{
		{
			CardNumber: card, Amount: 42.90, Timestamp: now.Add(-72 * time.Hour),
			Status: "approved", FraudScore: 0.05,
			MerchantID: "m-001", MerchantName: "Espresso House", MCC: "5814", Country: "IT",
			CustomerFirstName: "Marco", CustomerLastName: "Rossi",
		},
		{
			CardNumber: card, Amount: 129.00, Timestamp: now.Add(-30 * time.Hour),
			Status: "approved", FraudScore: 0.12,
			MerchantID: "m-002", MerchantName: "TrenItalia", MCC: "4112", Country: "IT",
			CustomerFirstName: "Marco", CustomerLastName: "Rossi",
		},
		{
			CardNumber: card, Amount: 849.99, Timestamp: now.Add(-2 * time.Hour),
			Status: "declined", FraudScore: 0.93,
			MerchantID: "m-909", MerchantName: "LuxGadget Online", MCC: "5732", Country: "RO",
			CustomerFirstName: "Marco", CustomerLastName: "Rossi",
		},
	}

	for _, tx := range txs {
		if err := s.Transactions.Create(ctx, tx); err != nil {
			return fmt.Errorf("seed transaction: %w", err)
		}
	}

	// 最后一笔是被拦截的高风险交易，为它开告警。
	alerted := txs[len(txs)-1]
	alert := &model.Alert{TransactionID: alerted.ID, CreatedAt: now, Status: "open"}
	if err := s.Alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("seed alert: %w", err)
	}
	alerted.AlertID = alert.ID
	if err := s.Transactions.Create(ctx, alerted); err != nil {
		return fmt.Errorf("link alert to transaction: %w", err)
	}

	return nil
}
