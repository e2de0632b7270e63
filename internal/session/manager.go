package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apierrors "sessiongate/internal/errors"
	"sessiongate/internal/infrastructure"
	"sessiongate/internal/license"
	"sessiongate/pkg/contracts/events"
)

// ErrEmptyHandle is returned when the gateway supplies no connection handle
var ErrEmptyHandle = errors.New("connection handle is empty")

// LicenseChecker answers the two entitlement questions asked before a
// session is bound. Both are expected to be cheap or cached.
type LicenseChecker interface {
	LicenseExists(ctx context.Context, licenseKey string) (bool, error)
	SubscriptionValid(ctx context.Context, licenseKey string) (bool, error)
}

// Notifier receives displacement events. It must not block.
type Notifier interface {
	NotifyDisplaced(ctx context.Context, inv Invalidation)
}

// Manager applies connect, disconnect and validate transitions to the
// Directory. It is the only writer of session records.
type Manager struct {
	directory Directory
	licenses  LicenseChecker
	notifier  Notifier
	telemetry *Telemetry
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a session lifecycle manager
func NewManager(directory Directory, licenses LicenseChecker, notifier Notifier, telemetry *Telemetry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		directory: directory,
		licenses:  licenses,
		notifier:  notifier,
		telemetry: telemetry,
		logger:    infrastructure.WithComponent(logger, "session.manager"),
		now:       time.Now,
	}
}

// Connect binds licenseKey to handle, displacing any previous connection.
func (m *Manager) Connect(ctx context.Context, licenseKey, handle string) events.SessionResult {
	ctx, span := m.telemetry.startSpan(ctx, "session.connect",
		attribute.String("connection_handle", handle),
		attribute.String("license", license.Fingerprint(licenseKey)))
	defer span.End()

	logger := m.logger.With(
		slog.String("connection_handle", handle),
		slog.String("license", license.Fingerprint(licenseKey)))

	replaced, displaced, err := m.connect(ctx, licenseKey, handle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		status := apierrors.SessionStatusCode(err)
		switch {
		case apierrors.IsInvalidSubscription(err):
			logger.InfoContext(ctx, "connect rejected", slog.String("error", err.Error()))
			m.telemetry.RecordConnect(ctx, OutcomeInvalidSubscription, false, false)
			return events.SessionResult{Status: false, StatusCode: status, Message: events.MessageInvalidSubscription}
		case apierrors.IsInvalidLicense(err):
			logger.InfoContext(ctx, "connect rejected", slog.String("error", err.Error()))
			m.telemetry.RecordConnect(ctx, OutcomeInvalidLicense, false, false)
			return events.SessionResult{Status: false, StatusCode: status, Message: events.MessageInvalidLicense}
		default:
			logger.ErrorContext(ctx, "connect failed", slog.String("error", err.Error()))
			m.telemetry.RecordConnect(ctx, OutcomeError, false, false)
			return events.SessionResult{Status: false, StatusCode: status, Message: events.MessageServerError}
		}
	}

	logger.InfoContext(ctx, "session bound", slog.Bool("displaced_previous", displaced))
	m.telemetry.RecordConnect(ctx, OutcomeBound, replaced, displaced)
	return events.SessionResult{Status: true, StatusCode: http.StatusOK, Message: events.MessageConnectionEstablished}
}

func (m *Manager) connect(ctx context.Context, licenseKey, handle string) (replaced, displaced bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			replaced, displaced = false, false
			err = fmt.Errorf("connect panicked: %v", r)
		}
	}()

	if err := m.checkEntitlement(ctx, licenseKey); err != nil {
		return false, false, err
	}
	if handle == "" {
		return false, false, ErrEmptyHandle
	}

	prev, replaced, err := m.directory.Put(ctx, licenseKey, handle)
	if err != nil {
		return false, false, fmt.Errorf("bind session: %w", err)
	}
	if !replaced || prev.ConnectionHandle == handle {
		return replaced, false, nil
	}

	m.notifier.NotifyDisplaced(ctx, Invalidation{
		Handle:       prev.ConnectionHandle,
		LicenseKey:   licenseKey,
		Reason:       events.ReasonSuperseded,
		SupersededBy: handle,
		SupersededAt: m.now(),
	})
	return true, true, nil
}

// checkEntitlement runs the local format check, then license existence, then
// subscription legality. Nothing is mutated here.
func (m *Manager) checkEntitlement(ctx context.Context, licenseKey string) error {
	if err := license.ValidateKey(licenseKey); err != nil {
		return apierrors.NewInvalidLicenseError(licenseKey, err)
	}

	exists, err := m.licenses.LicenseExists(ctx, licenseKey)
	if err != nil {
		return fmt.Errorf("check license: %w", err)
	}
	if !exists {
		return apierrors.NewInvalidLicenseError(licenseKey, apierrors.ErrLicenseUnknown)
	}

	valid, err := m.licenses.SubscriptionValid(ctx, licenseKey)
	if err != nil {
		return fmt.Errorf("check subscription: %w", err)
	}
	if !valid {
		return apierrors.NewInvalidSubscriptionError(licenseKey, apierrors.ErrSubscriptionInvalid)
	}
	return nil
}

// Disconnect releases whatever license handle is bound to. Unknown and
// already-superseded handles produce the same result as a removal.
func (m *Manager) Disconnect(ctx context.Context, handle string) (res events.SessionResult) {
	ctx, span := m.telemetry.startSpan(ctx, "session.disconnect",
		attribute.String("connection_handle", handle))
	defer span.End()

	logger := m.logger.With(slog.String("connection_handle", handle))
	defer func() {
		if r := recover(); r != nil {
			res = m.disconnectFailed(ctx, logger, span, fmt.Errorf("disconnect panicked: %v", r))
		}
	}()

	licenseKey, found, err := m.directory.LicenseFor(ctx, handle)
	if err != nil {
		return m.disconnectFailed(ctx, logger, span, fmt.Errorf("resolve license: %w", err))
	}
	if !found {
		logger.DebugContext(ctx, "disconnect for unbound connection")
		m.telemetry.RecordDisconnect(ctx, OutcomeNoop)
		return closedResult()
	}

	removed, err := m.directory.Remove(ctx, licenseKey, handle)
	if err != nil {
		return m.disconnectFailed(ctx, logger, span, fmt.Errorf("remove session: %w", err))
	}
	if !removed {
		logger.DebugContext(ctx, "disconnect for superseded connection",
			slog.String("license", license.Fingerprint(licenseKey)))
		m.telemetry.RecordDisconnect(ctx, OutcomeNoop)
		return closedResult()
	}

	logger.InfoContext(ctx, "session released",
		slog.String("license", license.Fingerprint(licenseKey)))
	m.telemetry.RecordDisconnect(ctx, OutcomeRemoved)
	return closedResult()
}

// Release is the explicit session-closed acknowledgement: the client names
// its license and the record is dropped only if handle still owns it.
func (m *Manager) Release(ctx context.Context, licenseKey, handle string) (res events.SessionResult) {
	ctx, span := m.telemetry.startSpan(ctx, "session.release",
		attribute.String("connection_handle", handle),
		attribute.String("license", license.Fingerprint(licenseKey)))
	defer span.End()

	logger := m.logger.With(
		slog.String("connection_handle", handle),
		slog.String("license", license.Fingerprint(licenseKey)))
	defer func() {
		if r := recover(); r != nil {
			res = m.disconnectFailed(ctx, logger, span, fmt.Errorf("release panicked: %v", r))
		}
	}()

	if err := license.ValidateKey(licenseKey); err != nil {
		logger.InfoContext(ctx, "release rejected", slog.String("error", err.Error()))
		return events.SessionResult{Status: false, StatusCode: http.StatusForbidden, Message: events.MessageInvalidLicense}
	}

	removed, err := m.directory.Remove(ctx, licenseKey, handle)
	if err != nil {
		return m.disconnectFailed(ctx, logger, span, fmt.Errorf("remove session: %w", err))
	}
	if removed {
		logger.InfoContext(ctx, "session released by client")
		m.telemetry.RecordDisconnect(ctx, OutcomeRemoved)
	} else {
		m.telemetry.RecordDisconnect(ctx, OutcomeNoop)
	}
	return closedResult()
}

func (m *Manager) disconnectFailed(ctx context.Context, logger *slog.Logger, span trace.Span, err error) events.SessionResult {
	logger.ErrorContext(ctx, "disconnect failed", slog.String("error", err.Error()))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.telemetry.RecordDisconnect(ctx, OutcomeError)
	return events.SessionResult{Status: false, StatusCode: http.StatusInternalServerError, Message: events.MessageServerError}
}

// Validate reports whether handle is still the authoritative connection for
// licenseKey. Unexpected failures resolve as valid (status=true, 500) so that
// a backend hiccup never logs out a legitimate user.
func (m *Manager) Validate(ctx context.Context, licenseKey, handle string) (resp events.ValidateResponse) {
	ctx, span := m.telemetry.startSpan(ctx, "session.validate",
		attribute.String("connection_handle", handle),
		attribute.String("license", license.Fingerprint(licenseKey)))
	defer span.End()

	logger := m.logger.With(
		slog.String("connection_handle", handle),
		slog.String("license", license.Fingerprint(licenseKey)))

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "validation panicked, failing open", slog.Any("panic", r))
			m.telemetry.RecordValidation(ctx, OutcomeFailOpen)
			resp = events.NewValidateResponse(failOpenResult())
		}
	}()

	if err := m.checkEntitlement(ctx, licenseKey); err != nil {
		switch {
		case apierrors.IsInvalidLicense(err):
			m.telemetry.RecordValidation(ctx, OutcomeInvalidLicense)
			return events.NewValidateResponse(events.SessionResult{
				Status: false, StatusCode: http.StatusForbidden, Message: events.MessageInvalidLicenseError,
			})
		case apierrors.IsInvalidSubscription(err):
			m.telemetry.RecordValidation(ctx, OutcomeInvalidSubscription)
			return events.NewValidateResponse(events.SessionResult{
				Status: false, StatusCode: http.StatusForbidden, Message: events.MessageInvalidSubscription,
			})
		default:
			logger.ErrorContext(ctx, "validation failed, failing open", slog.String("error", err.Error()))
			span.RecordError(err)
			m.telemetry.RecordValidation(ctx, OutcomeFailOpen)
			return events.NewValidateResponse(failOpenResult())
		}
	}

	rec, found, err := m.directory.Lookup(ctx, licenseKey)
	if err != nil {
		logger.ErrorContext(ctx, "session lookup failed, failing open", slog.String("error", err.Error()))
		span.RecordError(err)
		m.telemetry.RecordValidation(ctx, OutcomeFailOpen)
		return events.NewValidateResponse(failOpenResult())
	}

	if found && handle != "" && rec.ConnectionHandle == handle {
		m.telemetry.RecordValidation(ctx, OutcomeValid)
		return events.NewValidateResponse(events.SessionResult{
			Status: true, StatusCode: http.StatusOK, Message: events.MessageValid,
		})
	}

	logger.DebugContext(ctx, "connection is not the active session", slog.Bool("license_bound", found))
	m.telemetry.RecordValidation(ctx, OutcomeNotFound)
	return events.NewValidateResponse(events.SessionResult{
		Status: false, StatusCode: http.StatusForbidden, Message: events.MessageNotFound,
	})
}

// Lookup exposes the bound record for read-only callers
func (m *Manager) Lookup(ctx context.Context, licenseKey string) (Record, bool, error) {
	return m.directory.Lookup(ctx, licenseKey)
}

// ActiveSessions returns the number of bound licenses
func (m *Manager) ActiveSessions(ctx context.Context) (int, error) {
	return m.directory.Count(ctx)
}

func closedResult() events.SessionResult {
	return events.SessionResult{Status: true, StatusCode: http.StatusOK, Message: events.MessageConnectionClosed}
}

func failOpenResult() events.SessionResult {
	return events.SessionResult{Status: true, StatusCode: http.StatusInternalServerError, Message: events.MessageInternalServerError}
}
