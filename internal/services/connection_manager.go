package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"whatsapp-hub/config"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/observability"
	"whatsapp-hub/internal/repositories"
	"whatsapp-hub/internal/utils"
	"whatsapp-hub/internal/wsnotify"

	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
)

const persistTimeout = 15 * time.Second

var errStaleLifetime = errors.New("session lifetime replaced")

// InboundHandler recebe mensagens e recibos vindos do transporte.
type InboundHandler interface {
	HandleInbound(ctx context.Context, sessionID string, msg InboundMessage) error
	ApplyReceipt(ctx context.Context, sessionID string, receipt Receipt) error
}

// ConnectionManager controla o ciclo de vida das sessões:
// DISCONNECTED -> CONNECTING -> QR_PENDING -> CONNECTING -> CONNECTED.
type ConnectionManager struct {
	cfg       config.SessionConfig
	store     *repositories.Store
	transport Transport
	registry  *Registry
	settings  *SettingsService
	publisher wsnotify.Publisher
	inbound   InboundHandler

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewConnectionManager(
	cfg config.SessionConfig,
	store *repositories.Store,
	transport Transport,
	registry *Registry,
	settings *SettingsService,
	publisher wsnotify.Publisher,
	inbound InboundHandler,
) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		cfg:       cfg,
		store:     store,
		transport: transport,
		registry:  registry,
		settings:  settings,
		publisher: publisher,
		inbound:   inbound,
		baseCtx:   ctx,
		stop:      cancel,
	}
}

func persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

// EncodeQRCode gera o PNG do código de pareamento como data URL.
func EncodeQRCode(code string) (string, error) {
	qr, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("erro ao gerar QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(qr), nil
}

func companyLockKey(companyID string) string {
	return "company:" + companyID
}

// CreateSession grava uma nova sessão DISCONNECTED, respeitando o limite da empresa.
func (cm *ConnectionManager) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.CompanyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", models.ErrInvalidPayload)
	}

	unlock := cm.registry.Lock(companyLockKey(req.CompanyID))
	session := &models.Session{
		ID:           utils.NewID("ses_"),
		CompanyID:    req.CompanyID,
		Name:         req.Name,
		Status:       models.SessionDisconnected,
		AIEnabled:    req.AIEnabled,
		AIMode:       req.AIMode,
		WorkingHours: datatypes.JSON(req.WorkingHours),
		IsDefault:    req.IsDefault,
	}
	if session.AIMode == "" {
		session.AIMode = "off"
	}
	err := cm.checkCapacity(ctx, req.CompanyID, session.ID, true)
	if err == nil {
		err = cm.store.Sessions.Create(ctx, session)
	}
	unlock()
	if err != nil {
		return nil, err
	}

	utils.LogInfo("Sessão %s criada para a empresa %s", session.ID, session.CompanyID)
	if req.Connect {
		return cm.CreateOrConnect(ctx, session.ID, session.CompanyID)
	}
	return session, nil
}

// checkCapacity falha com ErrSessionLimitExceeded quando a empresa não comporta a sessão.
func (cm *ConnectionManager) checkCapacity(ctx context.Context, companyID, sessionID string, isNew bool) error {
	settings, err := cm.settings.Get(ctx, companyID)
	if err != nil {
		return err
	}
	limit := settings.EffectiveMaxSessions()

	existing, err := cm.store.Sessions.CountByCompany(ctx, companyID)
	if err != nil {
		return err
	}
	added := 0
	if isNew {
		added = 1
	}
	if int(existing)+added > limit {
		return fmt.Errorf("%w: company %s allows %d sessions", models.ErrSessionLimitExceeded, companyID, limit)
	}
	if cm.registry.LiveCount(companyID, sessionID) >= limit {
		return fmt.Errorf("%w: company %s already has %d live sessions", models.ErrSessionLimitExceeded, companyID, limit)
	}
	return nil
}

// CreateOrConnect inicia a conexão da sessão. Não faz nada se já existe
// uma conexão viva ou pendente; cria o registro quando ele não existe.
func (cm *ConnectionManager) CreateOrConnect(ctx context.Context, sessionID, companyID string) (*models.Session, error) {
	unlock := cm.registry.Lock(sessionID)
	defer unlock()

	if _, live := cm.registry.Snapshot(sessionID); live {
		utils.LogDebug("Sessão %s já possui conexão ativa ou pendente", sessionID)
		return cm.GetSession(ctx, sessionID)
	}

	session, err := cm.store.Sessions.GetByID(ctx, sessionID)
	isNew := false
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		if companyID == "" {
			return nil, fmt.Errorf("%w: company_id is required to create session %s", models.ErrInvalidPayload, sessionID)
		}
		isNew = true
		session = &models.Session{
			ID:        sessionID,
			CompanyID: companyID,
			Name:      sessionID,
			Status:    models.SessionDisconnected,
			AIMode:    "off",
		}
	case err != nil:
		return nil, err
	case companyID != "" && session.CompanyID != companyID:
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}

	unlockCompany := cm.registry.Lock(companyLockKey(session.CompanyID))
	err = cm.checkCapacity(ctx, session.CompanyID, sessionID, isNew)
	if err == nil && isNew {
		err = cm.store.Sessions.Create(ctx, session)
	}
	if err != nil {
		unlockCompany()
		return nil, err
	}
	lifeCtx, cancel := context.WithCancel(cm.baseCtx)
	life := &lifetime{ctx: lifeCtx, cancel: cancel}
	gen, pipeline := cm.reserve(sessionID, session.CompanyID, life, nil)
	unlockCompany()

	cm.transition(ctx, session.CompanyID, sessionID, models.SessionConnecting, "", nil)
	if err := cm.open(session, gen, pipeline, life, false); err != nil {
		return nil, err
	}
	return cm.GetSession(ctx, sessionID)
}

// reserve registra uma nova geração de conexão da sessão com status CONNECTING.
// Quando prev é informado, a entrada existente é reaproveitada (reconexão).
func (cm *ConnectionManager) reserve(sessionID, companyID string, life *lifetime, prev *sessionEntry) (uint64, *sessionPipeline) {
	gen := cm.registry.nextGeneration()
	pipeline := newSessionPipeline(life.ctx, sessionID, gen, cm.cfg.InboundQueueSize, cm.handleEvent)
	entry := &sessionEntry{
		companyID:  companyID,
		status:     models.SessionConnecting,
		generation: gen,
		life:       life,
		pipeline:   pipeline,
	}
	if prev != nil {
		entry.phone = prev.phone
		entry.reconnecting = true
	}
	cm.registry.put(sessionID, entry)
	return gen, pipeline
}

// open abre o transporte da geração gen. Deve ser chamado com o lock da sessão.
// Em reconexão (keep) a entrada continua registrada após uma falha.
func (cm *ConnectionManager) open(session *models.Session, gen uint64, pipeline *sessionPipeline, life *lifetime, keep bool) error {
	auth, err := models.ParseAuthState(session.AuthState)
	if err != nil {
		utils.LogWarning("Credenciais inválidas para a sessão %s, iniciando novo pareamento: %v", session.ID, err)
		auth = &models.AuthState{}
	}

	openCtx, cancel := context.WithTimeout(life.ctx, cm.cfg.ConnectTimeout)
	conn, err := cm.transport.Open(openCtx, session.ID, auth, pipeline.Push)
	cancel()
	if err == nil && !cm.registry.update(session.ID, gen, func(e *sessionEntry) { e.conn = conn }) {
		conn.Close()
		err = errStaleLifetime
	}
	if err == nil {
		utils.LogInfo("Transporte aberto para a sessão %s (geração %d)", session.ID, gen)
		return nil
	}

	observability.TransportFailures.WithLabelValues("connect").Inc()
	utils.LogError("Erro ao conectar a sessão %s: %v", session.ID, err)
	pipeline.Stop()
	if keep {
		cm.registry.update(session.ID, gen, func(e *sessionEntry) {
			e.status = models.SessionDisconnected
			e.conn = nil
		})
	} else {
		cm.registry.removeIf(session.ID, gen)
		life.cancel()
	}

	ctx, done := persistCtx()
	defer done()
	cm.transition(ctx, session.CompanyID, session.ID, models.SessionDisconnected, "", map[string]interface{}{"last_error": err.Error()})
	return fmt.Errorf("%w: %w", models.ErrTransportFailure, err)
}

// transition grava o status e publica session.connection.
func (cm *ConnectionManager) transition(ctx context.Context, companyID, sessionID string, status models.SessionStatus, phone string, extra map[string]interface{}) {
	fields := map[string]interface{}{}
	for k, v := range extra {
		fields[k] = v
	}
	if phone != "" {
		fields["phone"] = phone
	}
	if err := cm.store.Sessions.UpdateStatus(ctx, sessionID, status, fields); err != nil {
		utils.LogError("Erro ao gravar status %s da sessão %s: %v", status, sessionID, err)
	}
	observability.SessionTransitions.WithLabelValues(string(status)).Inc()

	payload := map[string]interface{}{"sessionId": sessionID, "status": status}
	if phone != "" {
		payload["phone"] = phone
	}
	cm.publisher.Publish(wsnotify.NewEvent(wsnotify.EventSessionConnection, companyID, sessionID, payload))
}

func (cm *ConnectionManager) notify(ctx context.Context, companyID, sessionID, kind, message string) {
	settings, err := cm.settings.Get(ctx, companyID)
	if err != nil || !settings.NotifyDisconnect {
		return
	}
	cm.publisher.Publish(wsnotify.NewEvent(wsnotify.EventNotification, companyID, sessionID, map[string]interface{}{
		"kind":      kind,
		"sessionId": sessionID,
		"message":   message,
	}))
}

func (cm *ConnectionManager) handleEvent(ctx context.Context, sessionID string, gen uint64, evt TransportEvent) {
	switch e := evt.(type) {
	case MessageEvent:
		if cm.inbound != nil {
			if err := cm.inbound.HandleInbound(ctx, sessionID, e.Message); err != nil {
				utils.LogError("Erro ao processar mensagem %s da sessão %s: %v", e.Message.ProtocolID, sessionID, err)
			}
		}
		return
	case ReceiptEvent:
		if cm.inbound != nil {
			if err := cm.inbound.ApplyReceipt(ctx, sessionID, e.Receipt); err != nil {
				utils.LogError("Erro ao aplicar recibo da sessão %s: %v", sessionID, err)
			}
		}
		return
	}

	unlock := cm.registry.Lock(sessionID)
	defer unlock()

	entry := cm.registry.current(sessionID, gen)
	if entry == nil {
		utils.LogDebug("Evento %T ignorado: geração %d da sessão %s não está mais ativa", evt, gen, sessionID)
		return
	}

	pctx, done := persistCtx()
	defer done()

	switch e := evt.(type) {
	case QREvent:
		cm.onQR(pctx, sessionID, gen, entry.companyID, e.Code)
	case PairedEvent:
		cm.registry.update(sessionID, gen, func(en *sessionEntry) {
			en.status = models.SessionConnecting
			en.qr = ""
			if e.Phone != "" {
				en.phone = e.Phone
			}
		})
		cm.saveDevice(pctx, sessionID, e.DeviceJID, e.PushName)
		cm.transition(pctx, entry.companyID, sessionID, models.SessionConnecting, e.Phone, map[string]interface{}{"qr_code": nil})
	case ConnectedEvent:
		cm.onConnected(pctx, sessionID, gen, entry.companyID, e.Phone)
	case DisconnectedEvent:
		cm.onDisconnected(pctx, sessionID, gen, entry, e.Err)
	case LoggedOutEvent:
		cm.onLoggedOut(pctx, sessionID, gen, entry, e.Reason)
	case CredentialsEvent:
		cm.saveDevice(pctx, sessionID, e.DeviceJID, e.PushName)
	}
}

func (cm *ConnectionManager) onQR(ctx context.Context, sessionID string, gen uint64, companyID, code string) {
	png, err := EncodeQRCode(code)
	if err != nil {
		utils.LogError("Erro ao gerar QR code para a sessão %s: %v", sessionID, err)
		return
	}

	var prev models.SessionStatus
	cm.registry.update(sessionID, gen, func(e *sessionEntry) {
		prev = e.status
		e.status = models.SessionQRPending
		e.qr = png
	})
	if err := cm.store.Sessions.SaveQRCode(ctx, sessionID, png); err != nil {
		utils.LogError("Erro ao gravar QR code da sessão %s: %v", sessionID, err)
	}
	if prev != models.SessionQRPending {
		observability.SessionTransitions.WithLabelValues(string(models.SessionQRPending)).Inc()
		cm.publisher.Publish(wsnotify.NewEvent(wsnotify.EventSessionConnection, companyID, sessionID, map[string]interface{}{
			"sessionId": sessionID,
			"status":    models.SessionQRPending,
		}))
	}
	utils.LogInfo("QR code emitido para a sessão %s", sessionID)
	cm.publisher.Publish(wsnotify.NewEvent(wsnotify.EventSessionQR, companyID, sessionID, map[string]interface{}{
		"sessionId": sessionID,
		"qrCode":    png,
	}))
}

func (cm *ConnectionManager) onConnected(ctx context.Context, sessionID string, gen uint64, companyID, phone string) {
	var prev models.SessionStatus
	cm.registry.update(sessionID, gen, func(e *sessionEntry) {
		prev = e.status
		e.status = models.SessionConnected
		e.qr = ""
		e.reconnecting = false
		if phone != "" {
			e.phone = phone
		} else {
			phone = e.phone
		}
	})
	if prev != models.SessionConnected {
		observability.SessionsConnected.Inc()
	}
	utils.LogInfo("Sessão %s conectada (%s)", sessionID, phone)
	cm.transition(ctx, companyID, sessionID, models.SessionConnected, phone, map[string]interface{}{"last_error": nil})
}

func (cm *ConnectionManager) onDisconnected(ctx context.Context, sessionID string, gen uint64, entry *sessionEntry, cause error) {
	var (
		prev models.SessionStatus
		conn Connection
	)
	cm.registry.update(sessionID, gen, func(e *sessionEntry) {
		prev = e.status
		conn = e.conn
		e.status = models.SessionDisconnected
		e.conn = nil
		e.qr = ""
		e.reconnecting = true
	})
	if prev == models.SessionConnected {
		observability.SessionsConnected.Dec()
	}
	entry.pipeline.Stop()
	if conn != nil {
		conn.Close()
	}

	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}
	utils.LogWarning("Sessão %s desconectada inesperadamente: %s", sessionID, reason)
	cm.transition(ctx, entry.companyID, sessionID, models.SessionDisconnected, "", map[string]interface{}{"last_error": reason})

	cm.wg.Add(1)
	go cm.reconnect(sessionID, entry.companyID, entry.life)
}

func (cm *ConnectionManager) onLoggedOut(ctx context.Context, sessionID string, gen uint64, entry *sessionEntry, reason string) {
	removed := cm.registry.removeIf(sessionID, gen)
	if removed == nil {
		return
	}
	cm.teardown(removed)
	removed.life.cancel()

	if err := cm.store.Sessions.SaveAuthState(ctx, sessionID, nil); err != nil {
		utils.LogError("Erro ao limpar credenciais da sessão %s: %v", sessionID, err)
	}
	if reason == "" {
		reason = "logged out"
	}
	utils.LogWarning("Sessão %s deslogada: %s", sessionID, reason)
	cm.transition(ctx, entry.companyID, sessionID, models.SessionDisconnected, "", map[string]interface{}{"last_error": reason})
	cm.notify(ctx, entry.companyID, sessionID, "session.logged_out", reason)
}

// saveDevice grava a identidade do dispositivo pareado dentro de auth_state.
func (cm *ConnectionManager) saveDevice(ctx context.Context, sessionID, deviceJID, pushName string) {
	if deviceJID == "" {
		return
	}
	session, err := cm.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		utils.LogError("Erro ao carregar sessão %s para gravar credenciais: %v", sessionID, err)
		return
	}
	auth, err := models.ParseAuthState(session.AuthState)
	if err != nil {
		auth = &models.AuthState{}
	}
	if err := auth.SetDevice(deviceJID, pushName); err != nil {
		utils.LogError("Erro ao atualizar credenciais da sessão %s: %v", sessionID, err)
		return
	}
	raw, err := auth.Marshal()
	if err == nil {
		err = cm.store.Sessions.SaveAuthState(ctx, sessionID, raw)
	}
	if err != nil {
		utils.LogError("Erro ao gravar credenciais da sessão %s: %v", sessionID, err)
	}
}

// reconnect tenta reabrir a sessão com backoff exponencial até esgotar as tentativas
// ou até a sessão ser desconectada explicitamente.
func (cm *ConnectionManager) reconnect(sessionID, companyID string, life *lifetime) {
	defer cm.wg.Done()

	delay := cm.cfg.ReconnectBaseDelay
	var lastErr error
	for attempt := 1; attempt <= cm.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-life.ctx.Done():
			return
		case <-time.After(delay):
		}

		utils.LogInfo("Reconectando sessão %s (tentativa %d/%d)", sessionID, attempt, cm.cfg.ReconnectMaxAttempts)
		err := cm.reconnectOnce(sessionID, life)
		if err == nil {
			return
		}
		if errors.Is(err, errStaleLifetime) {
			return
		}
		lastErr = err

		delay *= 2
		if delay > cm.cfg.ReconnectMaxDelay {
			delay = cm.cfg.ReconnectMaxDelay
		}
	}

	unlock := cm.registry.Lock(sessionID)
	defer unlock()
	entry := cm.registry.entry(sessionID)
	if entry == nil || entry.life != life {
		return
	}
	cm.registry.remove(sessionID)
	cm.teardown(entry)
	life.cancel()

	ctx, done := persistCtx()
	defer done()
	reason := fmt.Sprintf("reconnect failed after %d attempts", cm.cfg.ReconnectMaxAttempts)
	if lastErr != nil {
		reason += ": " + lastErr.Error()
	}
	utils.LogError("Sessão %s: %s", sessionID, reason)
	cm.transition(ctx, companyID, sessionID, models.SessionDisconnected, "", map[string]interface{}{"last_error": reason})
	cm.notify(ctx, companyID, sessionID, "session.reconnect_failed", reason)
}

func (cm *ConnectionManager) reconnectOnce(sessionID string, life *lifetime) error {
	unlock := cm.registry.Lock(sessionID)
	defer unlock()

	entry := cm.registry.entry(sessionID)
	if entry == nil || entry.life != life || life.ctx.Err() != nil {
		return errStaleLifetime
	}

	ctx, done := persistCtx()
	session, err := cm.store.Sessions.GetByID(ctx, sessionID)
	done()
	if err != nil {
		return err
	}

	gen, pipeline := cm.reserve(sessionID, entry.companyID, life, entry)
	ctx, done = persistCtx()
	cm.transition(ctx, entry.companyID, sessionID, models.SessionConnecting, "", nil)
	done()
	return cm.open(session, gen, pipeline, life, true)
}

// teardown libera os recursos de uma entrada já removida do Registry.
func (cm *ConnectionManager) teardown(entry *sessionEntry) {
	if entry == nil {
		return
	}
	if entry.status == models.SessionConnected {
		observability.SessionsConnected.Dec()
	}
	if entry.pipeline != nil {
		entry.pipeline.Stop()
	}
	if entry.conn != nil {
		entry.conn.Close()
	}
}

// cancelPending cancela conexão pendente e reconexão antes de esperar o lock da sessão.
func (cm *ConnectionManager) cancelPending(sessionID string) {
	if entry := cm.registry.entry(sessionID); entry != nil {
		entry.life.cancel()
	}
}

func (cm *ConnectionManager) disconnectLocked(ctx context.Context, session *models.Session) error {
	entry := cm.registry.remove(session.ID)
	if entry != nil {
		entry.life.cancel()
		cm.teardown(entry)
	}
	if err := cm.store.Sessions.UpdateStatus(ctx, session.ID, models.SessionDisconnected, nil); err != nil {
		return err
	}
	observability.SessionTransitions.WithLabelValues(string(models.SessionDisconnected)).Inc()
	cm.publisher.Publish(wsnotify.NewEvent(wsnotify.EventSessionConnection, session.CompanyID, session.ID, map[string]interface{}{
		"sessionId": session.ID,
		"status":    models.SessionDisconnected,
	}))
	return nil
}

// Disconnect encerra a sessão a partir de qualquer estado.
func (cm *ConnectionManager) Disconnect(ctx context.Context, sessionID string) (*models.Session, error) {
	cm.cancelPending(sessionID)
	unlock := cm.registry.Lock(sessionID)
	defer unlock()

	session, err := cm.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := cm.disconnectLocked(ctx, session); err != nil {
		return nil, err
	}
	utils.LogInfo("Sessão %s desconectada", sessionID)
	session.Status = models.SessionDisconnected
	session.QRCode = nil
	return session, nil
}

// Delete desconecta e apaga a sessão com seus contatos e mensagens.
func (cm *ConnectionManager) Delete(ctx context.Context, sessionID string) error {
	cm.cancelPending(sessionID)
	unlock := cm.registry.Lock(sessionID)
	defer unlock()

	session, err := cm.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := cm.disconnectLocked(ctx, session); err != nil {
		return err
	}
	if err := cm.store.Sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	cm.registry.forget(sessionID)
	utils.LogInfo("Sessão %s removida", sessionID)
	return nil
}

// Logout desloga o aparelho (melhor esforço), limpa as credenciais e desconecta.
func (cm *ConnectionManager) Logout(ctx context.Context, sessionID string) error {
	cm.cancelPending(sessionID)
	unlock := cm.registry.Lock(sessionID)
	defer unlock()

	session, err := cm.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if entry := cm.registry.entry(sessionID); entry != nil && entry.conn != nil {
		lctx, cancel := context.WithTimeout(ctx, cm.cfg.MirrorTimeout)
		if err := entry.conn.Logout(lctx); err != nil {
			observability.TransportFailures.WithLabelValues("logout").Inc()
			utils.LogWarning("Erro ao deslogar a sessão %s no transporte: %v", sessionID, err)
		}
		cancel()
	}
	if err := cm.store.Sessions.SaveAuthState(ctx, sessionID, nil); err != nil {
		return err
	}
	return cm.disconnectLocked(ctx, session)
}

// overlay aplica o estado vivo do Registry sobre o registro persistido.
func (cm *ConnectionManager) overlay(session *models.Session) {
	snap, ok := cm.registry.Snapshot(session.ID)
	if !ok {
		return
	}
	session.Status = snap.Status
	if snap.QRCode != "" {
		qr := snap.QRCode
		session.QRCode = &qr
	}
	if snap.Phone != "" {
		phone := snap.Phone
		session.Phone = &phone
	}
}

func (cm *ConnectionManager) ListSessions(ctx context.Context, companyID string) ([]models.Session, error) {
	sessions, err := cm.store.Sessions.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		cm.overlay(&sessions[i])
	}
	return sessions, nil
}

func (cm *ConnectionManager) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := cm.store.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cm.overlay(session)
	return session, nil
}

func (cm *ConnectionManager) UpdateSession(ctx context.Context, sessionID string, req models.UpdateSessionRequest) (*models.Session, error) {
	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.AIEnabled != nil {
		fields["ai_enabled"] = *req.AIEnabled
	}
	if req.AIMode != nil {
		fields["ai_mode"] = *req.AIMode
	}
	if len(req.WorkingHours) > 0 {
		fields["working_hours"] = datatypes.JSON(req.WorkingHours)
	}
	if req.IsDefault != nil {
		fields["is_default"] = *req.IsDefault
	}
	if len(fields) == 0 {
		return cm.GetSession(ctx, sessionID)
	}
	if err := cm.store.Sessions.Update(ctx, sessionID, fields); err != nil {
		return nil, err
	}
	return cm.GetSession(ctx, sessionID)
}

// GetQRCode devolve o QR code atual. Sem conexão pendente, inicia uma e
// devolve vazio até o primeiro código chegar.
func (cm *ConnectionManager) GetQRCode(ctx context.Context, sessionID string) (string, models.SessionStatus, error) {
	session, err := cm.GetSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	if session.Status == models.SessionConnected {
		return "", session.Status, nil
	}
	if _, live := cm.registry.Snapshot(sessionID); !live {
		session, err = cm.CreateOrConnect(ctx, sessionID, session.CompanyID)
		if err != nil {
			return "", "", err
		}
	}
	return utils.StringValue(session.QRCode), session.Status, nil
}

// ResetAllStatuses marca todas as sessões como desconectadas na inicialização.
func (cm *ConnectionManager) ResetAllStatuses(ctx context.Context) error {
	n, err := cm.store.Sessions.ResetAllStatuses(ctx)
	if err != nil {
		return err
	}
	utils.LogInfo("%d sessões marcadas como desconectadas na inicialização", n)
	return nil
}

// CloseAllConnections encerra todas as sessões vivas no desligamento do serviço.
func (cm *ConnectionManager) CloseAllConnections(ctx context.Context) error {
	utils.LogInfo("Encerrando todas as conexões")
	cm.stop()

	for _, id := range cm.registry.IDs() {
		unlock := cm.registry.Lock(id)
		entry := cm.registry.remove(id)
		cm.teardown(entry)
		if entry != nil {
			if err := cm.store.Sessions.UpdateStatus(ctx, id, models.SessionDisconnected, nil); err != nil {
				utils.LogWarning("Não foi possível marcar a sessão %s como desconectada: %v", id, err)
			}
		}
		unlock()
	}

	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		utils.LogInfo("Todas as conexões encerradas")
		return nil
	case <-ctx.Done():
		utils.LogWarning("Tempo limite excedido ao encerrar conexões, encerrando mesmo assim")
		return ctx.Err()
	}
}
