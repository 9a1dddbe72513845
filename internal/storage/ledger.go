package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mt_relay/internal/models"
	"mt_relay/internal/relay"
)

// === Signal Ledger ===

// CreateSignalWithFanout записывает сигнал и заводит по одной записи
// доставки на каждого привязанного получателя. Одна транзакция: либо
// сигнал и весь fanout, либо ничего. Возвращает число получателей.
func (s *Storage) CreateSignalWithFanout(ctx context.Context, signal *models.Signal) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Получатели, привязанные к отправителю на момент записи
	rows, err := tx.Query(`
		SELECT id FROM accounts
		WHERE linked_sender_id = ? AND role = ? AND suspended = 0
		ORDER BY id
	`, signal.SenderAccountID, models.RoleReceiver)
	if err != nil {
		return 0, err
	}

	var receiverIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}

		receiverIDs = append(receiverIDs, id)
	}
	rows.Close()

	_, err = tx.Exec(`
		INSERT INTO signals (id, sender_account_id, action, symbol, order_type, volume, price,
		                     stop_loss, take_profit, source_ticket, magic_number, comment,
		                     status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, signal.ID, signal.SenderAccountID, signal.Action, signal.Symbol, nullString(signal.OrderType),
		signal.Volume, signal.Price, signal.StopLoss, signal.TakeProfit, signal.SourceTicket,
		signal.MagicNumber, signal.Comment, signal.Status, signal.CreatedAt, signal.ExpiresAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create signal: %w", err)
	}

	for _, receiverID := range receiverIDs {
		_, err = tx.Exec(`
			INSERT INTO deliveries (signal_id, receiver_account_id, state)
			VALUES (?, ?, ?)
		`, signal.ID, receiverID, models.DeliveryQueued)
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue delivery: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit signal: %w", err)
	}

	s.logger.Info("📨 Signal recorded",
		slog.String("signal_id", signal.ID),
		slog.String("action", signal.Action),
		slog.String("symbol", signal.Symbol),
		slog.Int("receivers", len(receiverIDs)))

	return len(receiverIDs), nil
}

type pollCandidate struct {
	deliveryID int
	view       models.SignalView
	status     string
	expiresAt  time.Time
}

// PollPending отдает содержимое почтового ящика получателя. Выборка и
// пометка DELIVERED происходят в одной транзакции с compare-and-swap по
// состоянию записи, поэтому два конкурентных опроса никогда не получат
// одну и ту же запись. Просроченные сигналы переводятся в EXPIRED и в
// выдачу не попадают. Пустой ящик - пустой срез, не ошибка.
func (s *Storage) PollPending(ctx context.Context, receiverAccountID int, now time.Time) ([]models.SignalView, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// FIFO: старые сигналы первыми, чтобы всплеск отправителя не
	// оттеснял ранние записи. ACKNOWLEDGED остается в выборке: сигнал
	// финализируется только после отчетов всех получателей, поэтому
	// отстающий получатель обязан получить свою запись
	rows, err := tx.Query(`
		SELECT d.id, s.id, s.action, s.symbol, coalesce(s.order_type, ''), s.volume, s.price,
		       s.stop_loss, s.take_profit, s.source_ticket, s.magic_number, coalesce(s.comment, ''),
		       s.status, s.expires_at
		FROM deliveries d
		JOIN signals s ON d.signal_id = s.id
		WHERE d.receiver_account_id = ? AND d.state = ? AND s.status IN (?, ?, ?)
		ORDER BY s.created_at ASC, d.id ASC
	`, receiverAccountID, models.DeliveryQueued, models.StatusPending, models.StatusSent,
		models.StatusAcknowledged)
	if err != nil {
		return nil, err
	}

	var candidates []pollCandidate
	for rows.Next() {
		var c pollCandidate
		err := rows.Scan(&c.deliveryID, &c.view.SignalID, &c.view.Action, &c.view.Symbol,
			&c.view.OrderType, &c.view.Volume, &c.view.Price, &c.view.StopLoss,
			&c.view.TakeProfit, &c.view.SourceTicket, &c.view.MagicNumber, &c.view.Comment,
			&c.status, &c.expiresAt)
		if err != nil {
			rows.Close()
			return nil, err
		}

		candidates = append(candidates, c)
	}
	rows.Close()

	views := []models.SignalView{}
	for _, c := range candidates {
		// Ленивое истечение: просроченный неподтвержденный сигнал
		// помечается и не отдается. ACKNOWLEDGED не истекает: уже
		// идущая сверка должна дойти до терминального статуса
		if (c.status == models.StatusPending || c.status == models.StatusSent) && now.After(c.expiresAt) {
			_, err = tx.Exec(`
				UPDATE signals SET status = ?
				WHERE id = ? AND status IN (?, ?)
			`, models.StatusExpired, c.view.SignalID, models.StatusPending, models.StatusSent)
			if err != nil {
				return nil, err
			}

			continue
		}

		// CAS: запись отдается ровно один раз
		result, err := tx.Exec(`
			UPDATE deliveries SET state = ?, delivered_at = ?
			WHERE id = ? AND state = ?
		`, models.DeliveryDelivered, now, c.deliveryID, models.DeliveryQueued)
		if err != nil {
			return nil, err
		}

		affected, _ := result.RowsAffected()
		if affected == 0 {
			continue
		}

		// Первая доставка двигает сигнал PENDING -> SENT
		_, err = tx.Exec(`
			UPDATE signals SET status = ? WHERE id = ? AND status = ?
		`, models.StatusSent, c.view.SignalID, models.StatusPending)
		if err != nil {
			return nil, err
		}

		views = append(views, c.view)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit poll: %w", err)
	}

	return views, nil
}

// RecordExecution записывает отчет получателя об исполнении и двигает
// жизненный цикл сигнала. Идемпотентно: повторный ack той же пары
// возвращает уже записанный отчет без изменений. Возвращает отчет и
// статус сигнала после операции.
func (s *Storage) RecordExecution(ctx context.Context, exec *models.Execution, now time.Time) (*models.Execution, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Получатель должен был быть целью доставки
	var deliveryID int
	err = tx.QueryRow(`
		SELECT id FROM deliveries
		WHERE signal_id = ? AND receiver_account_id = ?
	`, exec.SignalID, exec.ReceiverAccountID).Scan(&deliveryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", fmt.Errorf("%w: no delivery for signal %s and receiver %d",
				relay.ErrNotFound, exec.SignalID, exec.ReceiverAccountID)
		}

		return nil, "", err
	}

	// Идемпотентность: существующий отчет возвращается как есть
	existing, err := getExecutionTx(tx, exec.SignalID, exec.ReceiverAccountID)
	if err != nil {
		return nil, "", err
	}

	if existing != nil {
		var status string
		if err := tx.QueryRow(`SELECT status FROM signals WHERE id = ?`, exec.SignalID).Scan(&status); err != nil {
			return nil, "", err
		}

		return existing, status, tx.Commit()
	}

	var status string
	var expiresAt time.Time
	err = tx.QueryRow(`
		SELECT status, expires_at FROM signals WHERE id = ?
	`, exec.SignalID).Scan(&status, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", fmt.Errorf("%w: signal %s", relay.ErrNotFound, exec.SignalID)
		}

		return nil, "", err
	}

	// Ленивое истечение на пути ack: неподтвержденный просроченный
	// сигнал уходит в EXPIRED, после чего ack отклоняется
	if (status == models.StatusPending || status == models.StatusSent) && now.After(expiresAt) {
		if _, err := tx.Exec(`UPDATE signals SET status = ? WHERE id = ?`, models.StatusExpired, exec.SignalID); err != nil {
			return nil, "", err
		}

		if err := tx.Commit(); err != nil {
			return nil, "", err
		}

		return nil, "", fmt.Errorf("%w: signal %s is %s", relay.ErrInvalidState, exec.SignalID, models.StatusExpired)
	}

	if models.IsTerminalStatus(status) {
		return nil, "", fmt.Errorf("%w: signal %s is %s", relay.ErrInvalidState, exec.SignalID, status)
	}

	exec.ExecutedAt = now

	result, err := tx.Exec(`
		INSERT INTO executions (signal_id, receiver_account_id, status, executed_volume,
		                        executed_price, slippage, broker_ticket, error_code,
		                        error_message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.SignalID, exec.ReceiverAccountID, exec.Status, exec.ExecutedVolume,
		exec.ExecutedPrice, exec.Slippage, nullString(exec.BrokerTicket), exec.ErrorCode,
		nullString(exec.ErrorMessage), exec.ExecutedAt)
	if err != nil {
		// Уникальность пары (signal_id, receiver_account_id): проигравший
		// гонку повтор получает уже записанный отчет
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			existing, selErr := getExecutionTx(tx, exec.SignalID, exec.ReceiverAccountID)
			if selErr != nil || existing == nil {
				return nil, "", fmt.Errorf("%w: concurrent acknowledgment", relay.ErrConflict)
			}

			return existing, status, tx.Commit()
		}

		return nil, "", fmt.Errorf("failed to record execution: %w", err)
	}

	id, _ := result.LastInsertId()
	exec.ID = int(id)

	// Первый ack двигает сигнал в ACKNOWLEDGED
	_, err = tx.Exec(`
		UPDATE signals SET status = ? WHERE id = ? AND status IN (?, ?)
	`, models.StatusAcknowledged, exec.SignalID, models.StatusPending, models.StatusSent)
	if err != nil {
		return nil, "", err
	}

	signalStatus := models.StatusAcknowledged

	// Когда отчитались все получатели - агрегируем терминальный статус
	var total int
	if err := tx.QueryRow(`SELECT count(*) FROM deliveries WHERE signal_id = ?`, exec.SignalID).Scan(&total); err != nil {
		return nil, "", err
	}

	executions, err := listExecutionsTx(tx, exec.SignalID)
	if err != nil {
		return nil, "", err
	}

	if len(executions) >= total {
		signalStatus = models.AggregateOutcome(executions)
		if _, err := tx.Exec(`UPDATE signals SET status = ? WHERE id = ?`, signalStatus, exec.SignalID); err != nil {
			return nil, "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit execution: %w", err)
	}

	s.logger.Info("📥 Execution recorded",
		slog.String("signal_id", exec.SignalID),
		slog.Int("receiver_id", exec.ReceiverAccountID),
		slog.String("status", exec.Status),
		slog.String("signal_status", signalStatus))

	return exec, signalStatus, nil
}

const executionColumns = `id, signal_id, receiver_account_id, status, executed_volume,
       executed_price, slippage, coalesce(broker_ticket, ''), error_code,
       coalesce(error_message, ''), executed_at`

func scanExecution(row interface{ Scan(...any) error }) (*models.Execution, error) {
	var e models.Execution
	err := row.Scan(&e.ID, &e.SignalID, &e.ReceiverAccountID, &e.Status, &e.ExecutedVolume,
		&e.ExecutedPrice, &e.Slippage, &e.BrokerTicket, &e.ErrorCode, &e.ErrorMessage, &e.ExecutedAt)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

func getExecutionTx(tx *sql.Tx, signalID string, receiverAccountID int) (*models.Execution, error) {
	exec, err := scanExecution(tx.QueryRow(`
		SELECT `+executionColumns+`
		FROM executions
		WHERE signal_id = ? AND receiver_account_id = ?
	`, signalID, receiverAccountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, err
	}

	return exec, nil
}

func listExecutionsTx(tx *sql.Tx, signalID string) ([]models.Execution, error) {
	rows, err := tx.Query(`
		SELECT `+executionColumns+`
		FROM executions
		WHERE signal_id = ?
		ORDER BY id
	`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		executions = append(executions, *exec)
	}

	return executions, nil
}

// === History & Stats ===

// GetSignals возвращает историю сигналов отправителя с пагинацией и
// фильтрами по символу и датам
func (s *Storage) GetSignals(senderAccountID int, f models.HistoryFilter) ([]models.Signal, error) {
	query := `
		SELECT id, sender_account_id, action, symbol, coalesce(order_type, ''), volume, price,
		       stop_loss, take_profit, source_ticket, magic_number, coalesce(comment, ''),
		       status, created_at, expires_at
		FROM signals
		WHERE sender_account_id = ?`
	args := []any{senderAccountID}

	if f.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, f.Symbol)
	}

	if f.From != nil {
		query += " AND created_at >= ?"
		args = append(args, *f.From)
	}

	if f.To != nil {
		query += " AND created_at <= ?"
		args = append(args, *f.To)
	}

	query += " ORDER BY created_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		err := rows.Scan(&sig.ID, &sig.SenderAccountID, &sig.Action, &sig.Symbol, &sig.OrderType,
			&sig.Volume, &sig.Price, &sig.StopLoss, &sig.TakeProfit, &sig.SourceTicket,
			&sig.MagicNumber, &sig.Comment, &sig.Status, &sig.CreatedAt, &sig.ExpiresAt)
		if err != nil {
			continue
		}

		signals = append(signals, sig)
	}
	// Курсор держит соединение пула, закрываем до дозапросов
	rows.Close()

	// Подгружаем отчеты получателей
	for i := range signals {
		signals[i].Executions, _ = s.GetExecutions(signals[i].ID)
	}

	return signals, nil
}

// GetExecutions возвращает все отчеты по сигналу
func (s *Storage) GetExecutions(signalID string) ([]models.Execution, error) {
	rows, err := s.db.Query(`
		SELECT `+executionColumns+`
		FROM executions
		WHERE signal_id = ?
		ORDER BY id
	`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			continue
		}

		executions = append(executions, *exec)
	}

	return executions, nil
}

// SummarizeSignals считает агрегаты по журналу за окно. Чтение без
// мутаций: истекший статус вычисляется в самом запросе, писатели не
// блокируются.
func (s *Storage) SummarizeSignals(senderAccountID int, since *time.Time, now time.Time) (*models.SignalStats, error) {
	query := `
		SELECT CASE WHEN status IN (?, ?) AND expires_at < ? THEN ? ELSE status END AS effective,
		       symbol, action, count(*)
		FROM signals
		WHERE sender_account_id = ?`
	args := []any{models.StatusPending, models.StatusSent, now, models.StatusExpired, senderAccountID}

	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, *since)
	}

	query += " GROUP BY effective, symbol, action"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.SignalStats{
		ByStatus: map[string]int{},
		BySymbol: map[string]int{},
		ByAction: map[string]int{},
	}

	for rows.Next() {
		var status, symbol, action string
		var count int
		if err := rows.Scan(&status, &symbol, &action, &count); err != nil {
			return nil, err
		}

		stats.Total += count
		stats.ByStatus[status] += count
		stats.BySymbol[symbol] += count
		stats.ByAction[action] += count
	}

	return stats, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
