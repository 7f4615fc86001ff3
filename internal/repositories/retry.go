package repositories

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/observability"
	"whatsapp-hub/internal/utils"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// RetryPolicy define quantas vezes uma operação de banco é repetida em erros transitórios.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// noRetry é usado dentro de transações; quem repete é a transação externa.
var noRetry = RetryPolicy{Attempts: 1}

// Do executa op e traduz o erro final para a taxonomia de models.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !IsTransient(err) {
			return translate(err)
		}
		if i == attempts-1 {
			break
		}

		observability.PersistenceRetries.Inc()
		utils.LogWarning("Erro transitório no banco (tentativa %d/%d): %v", i+1, attempts, err)
		select {
		case <-ctx.Done():
			return translate(ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return translate(err)
}

// IsTransient reconhece falhas de conectividade e conflitos de lock que valem nova tentativa.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01" || strings.HasPrefix(pgErr.Code, "08")
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "database table is locked", "connection reset", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if models.ErrorKind(err) != "" {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", models.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", models.ErrPersistenceFailure, err)
}
