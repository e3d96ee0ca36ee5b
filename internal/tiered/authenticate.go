package tiered

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/guardian"
	"github.com/dropDatabas3/cancerbero/internal/hardening"
	"github.com/dropDatabas3/cancerbero/internal/security/assertion"
	"github.com/dropDatabas3/cancerbero/internal/security/password"
	"github.com/dropDatabas3/cancerbero/internal/security/totp"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	"github.com/dropDatabas3/cancerbero/internal/token"
)

// Authenticate corre el intento completo para el tier pedido: pre-check de
// política (consultivo), defensas de hardening, verificación de la
// credencial del nivel, emisión del token y monitoreo posterior. Nunca
// devuelve error: todo fallo viaja en Result.Reason.
func (a *Authenticator) Authenticate(ctx context.Context, ac AuthContext) Result {
	start := time.Now()
	res := a.authenticate(ctx, ac)
	res.Latency = time.Since(start)

	if res.OK {
		a.log.Info("autenticación de tier exitosa",
			zap.Int("tier", res.Tier),
			zap.String("subject", res.Subject),
			zap.Strings("amr", res.Path),
			zap.String("correlation_id", ac.CorrelationID),
			zap.Duration("latency", res.Latency),
		)
	} else {
		a.log.Info("autenticación de tier rechazada",
			zap.Int("tier", res.Tier),
			zap.String("username", ac.Username),
			zap.String("reason", res.Reason),
			zap.String("correlation_id", ac.CorrelationID),
		)
	}
	a.postCheck(ac, res)
	return res
}

func (a *Authenticator) authenticate(ctx context.Context, ac AuthContext) Result {
	res := Result{Tier: ac.Tier}

	if ac.Tier < T1 || ac.Tier > T5 {
		res.Reason = ReasonUnsupportedTier
		return res
	}

	// prerequisito estricto: T3..T5 exigen el nivel inmediato anterior ya
	// acreditado en el contexto
	if need := ac.Tier - 1; need >= T2 && ac.ExistingTier < need {
		res.Reason = RequiresTier(need)
		return res
	}

	// pre-check consultivo: una denegación explícita bloquea, la
	// indisponibilidad del colaborador no (se loggea y sigue)
	if dec, err := a.policyCheck(ctx, guardian.KindTierPre, ac); err != nil {
		a.log.Warn("pre-check de política indisponible, sigue",
			zap.Int("tier", ac.Tier), zap.Error(err))
	} else if !dec.Approved {
		a.log.Warn("pre-check de política denegó el intento",
			zap.Int("tier", ac.Tier),
			zap.String("username", ac.Username),
			zap.String("motivo", dec.Reason),
		)
		res.Reason = ReasonPolicyBlocked
		return res
	}

	if !a.rateAdmit(ctx, ac, &res) {
		return res
	}

	switch ac.Tier {
	case T1:
		a.tier1(ctx, ac, &res)
	case T2:
		a.tier2(ctx, ac, &res)
	case T3:
		a.tier3(ctx, ac, &res)
	case T4:
		a.tier4(ctx, ac, &res)
	case T5:
		a.tier5(ctx, ac, &res)
	}
	return res
}

// tier1 identifica sin credencial: alcanza con que el sujeto exista y esté
// activo. Es el estado de entrada de la escalera; su token sólo sirve para
// elevar.
func (a *Authenticator) tier1(ctx context.Context, ac AuthContext, res *Result) {
	s, ok := a.lookupSubject(ctx, ac, res)
	if !ok {
		return
	}
	a.issue(ac, res, s, MethodIdentification)
}

// tier2 verifica password con lockout progresivo. El camino de usuario
// inexistente verifica contra un hash dummy y responde igual que un
// password incorrecto para no filtrar existencia por timing ni por razón.
func (a *Authenticator) tier2(ctx context.Context, ac AuthContext, res *Result) {
	if ac.Username == "" || ac.Password == "" {
		res.Reason = ReasonMissingCredentials
		return
	}
	s, err := a.subjects.GetByUsername(ctx, ac.Username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			password.VerifyDummy(ac.Password)
			res.Reason = ReasonInvalidPassword
			return
		}
		a.log.Error("lookup de subject falló", zap.Error(err))
		res.Reason = ReasonInternal
		return
	}
	if !s.Active {
		password.VerifyDummy(ac.Password)
		res.Reason = ReasonSubjectDisabled
		return
	}

	now := a.now()
	lock, err := a.subjects.GetLockout(ctx, s.ID)
	if err != nil {
		a.log.Error("lectura de lockout falló", zap.Error(err))
		res.Reason = ReasonInternal
		return
	}
	if lock.Locked(now) {
		res.Reason = ReasonAccountLocked
		return
	}

	if !password.Verify(ac.Password, s.PasswordPHC) {
		a.recordPasswordFailure(ctx, ac, s.ID, lock, now)
		res.Reason = ReasonInvalidPassword
		return
	}

	if err := a.subjects.ClearLockout(ctx, s.ID); err != nil {
		a.log.Warn("limpieza de lockout falló", zap.Error(err))
	}
	a.issue(ac, res, s, MethodPassword)
}

// tier3 verifica TOTP contra la semilla cifrada del sujeto. El contador
// consumido se persiste antes de emitir: un código que no se puede marcar
// como usado no autentica.
func (a *Authenticator) tier3(ctx context.Context, ac AuthContext, res *Result) {
	if ac.TOTPCode == "" {
		res.Reason = ReasonMissingCredentials
		return
	}
	s, ok := a.lookupSubject(ctx, ac, res)
	if !ok {
		return
	}

	cred, err := a.subjects.GetTOTP(ctx, s.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			res.Reason = ReasonMissingCredentials
			return
		}
		a.log.Error("lectura de credencial TOTP falló", zap.Error(err))
		res.Reason = ReasonInternal
		return
	}
	if cred.ConfirmedAt == nil {
		res.Reason = ReasonMissingCredentials
		return
	}

	secret := cred.SecretEncrypted
	if a.box != nil {
		secret, err = a.box.Decrypt(cred.SecretEncrypted)
		if err != nil {
			a.log.Error("descifrado de semilla TOTP falló",
				zap.String("subject", s.ID), zap.Error(err))
			res.Reason = ReasonInternal
			return
		}
	}

	ok, counter := totp.Verify(secret, ac.TOTPCode, a.now(), a.totpOpts, cred.LastCounter)
	if !ok {
		res.Reason = ReasonInvalidTOTP
		return
	}
	if err := a.subjects.SetTOTPCounter(ctx, s.ID, counter); err != nil {
		a.log.Error("persistencia del contador TOTP falló",
			zap.String("subject", s.ID), zap.Error(err))
		res.Reason = ReasonInternal
		return
	}
	a.issue(ac, res, s, MethodTOTP)
}

// tier4 verifica una aserción WebAuthn contra las llaves registradas del
// sujeto y persiste el sign count devuelto por el autenticador.
func (a *Authenticator) tier4(ctx context.Context, ac AuthContext, res *Result) {
	if len(ac.Assertion) == 0 || ac.Challenge == "" {
		res.Reason = ReasonMissingCredentials
		return
	}
	s, ok := a.lookupSubject(ctx, ac, res)
	if !ok {
		return
	}

	keys, err := a.subjects.ListHardwareKeys(ctx, s.ID)
	if err != nil {
		a.log.Error("listado de llaves falló", zap.Error(err))
		res.Reason = ReasonInternal
		return
	}
	if len(keys) == 0 {
		res.Reason = ReasonMissingCredentials
		return
	}
	ids := make([][]byte, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.CredentialID)
	}

	parsed, err := assertion.Parse(ac.Assertion)
	if err != nil {
		res.Reason = ReasonInvalidAssertion
		return
	}
	ver, err := assertion.Verify(parsed, assertion.Expectations{
		Challenge:     ac.Challenge,
		RPID:          a.rpID,
		Origins:       a.origins,
		CredentialIDs: ids,
	})
	if err != nil {
		a.log.Debug("aserción rechazada", zap.String("subject", s.ID), zap.Error(err))
		res.Reason = ReasonInvalidAssertion
		return
	}
	if err := a.subjects.SetHardwareKeySignCount(ctx, s.ID, ver.CredentialID, ver.SignCount); err != nil {
		a.log.Warn("persistencia de sign count falló", zap.Error(err))
	}
	a.issue(ac, res, s, MethodHardwareKey)
}

// tier5 acepta una attestation biométrica de un dispositivo enrolado y
// confiable, con umbral de confianza y prueba de vida opcional.
func (a *Authenticator) tier5(ctx context.Context, ac AuthContext, res *Result) {
	b := ac.Biometric
	if b == nil || b.DeviceID == "" {
		res.Reason = ReasonMissingCredentials
		return
	}
	s, ok := a.lookupSubject(ctx, ac, res)
	if !ok {
		return
	}

	devices, err := a.subjects.ListBiometricDevices(ctx, s.ID)
	if err != nil {
		a.log.Error("listado de dispositivos biométricos falló", zap.Error(err))
		res.Reason = ReasonInternal
		return
	}
	var dev *core.BiometricDevice
	for i := range devices {
		if devices[i].DeviceID == b.DeviceID {
			dev = &devices[i]
			break
		}
	}
	if dev == nil {
		res.Reason = ReasonMissingCredentials
		return
	}
	if !dev.Trusted {
		res.Reason = ReasonDeviceNotTrusted
		return
	}
	if a.requireLiveness && !b.Liveness {
		res.Reason = ReasonLivenessRequired
		return
	}
	if b.Confidence < a.bioMinConfidence {
		a.reportEvent(hardening.SecurityEvent{
			Type:        "low_confidence_biometric",
			ThreatLevel: hardening.ThreatMedium,
			Actor:       s.ID,
			Action:      "reject",
			Detail:      map[string]any{"confidence": b.Confidence, "device": b.DeviceID},
		})
		res.Reason = ReasonConfidenceTooLow
		return
	}
	a.issue(ac, res, s, MethodBiometric)
}

// issue emite el token del tier con su TTL y el camino amr acumulado.
func (a *Authenticator) issue(ac AuthContext, res *Result, s core.Subject, method string) {
	path := append(append([]string{}, ac.ExistingAMR...), method)
	tok, exp, err := a.codec.IssueAccess(s.Username, a.ttl[ac.Tier], map[string]any{
		token.ClaimTier:  ac.Tier,
		token.ClaimNS:    s.Namespace,
		token.ClaimPerms: s.Permissions,
		token.ClaimAMR:   path,
	})
	if err != nil {
		a.log.Error("emisión de token falló", zap.Error(err))
		res.Reason = ReasonInternal
		return
	}
	res.OK = true
	res.Reason = ""
	res.Subject = s.Username
	res.Token = tok
	res.ExpiresAt = exp
	res.Path = path
}

// lookupSubject resuelve username a sujeto activo y setea la razón si no se
// puede. Los tiers que filtran existencia (T2) no pasan por acá.
func (a *Authenticator) lookupSubject(ctx context.Context, ac AuthContext, res *Result) (core.Subject, bool) {
	if ac.Username == "" {
		res.Reason = ReasonMissingCredentials
		return core.Subject{}, false
	}
	s, err := a.subjects.GetByUsername(ctx, ac.Username)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			res.Reason = ReasonUnknownSubject
			return core.Subject{}, false
		}
		a.log.Error("lookup de subject falló", zap.Error(err))
		res.Reason = ReasonInternal
		return core.Subject{}, false
	}
	if !s.Active {
		res.Reason = ReasonSubjectDisabled
		return core.Subject{}, false
	}
	return s, true
}

// rateAdmit consulta el limiter del manager. Backend caído cuenta como
// denegación: mejor rechazar un intento legítimo que abrir la puerta a un
// ataque de fuerza bruta sin freno.
func (a *Authenticator) rateAdmit(ctx context.Context, ac AuthContext, res *Result) bool {
	if a.hardening == nil {
		return true
	}
	id := ac.IP
	if id == "" {
		id = ac.Username
	}
	if id == "" {
		return true
	}
	dec, err := a.hardening.Rate.Check(ctx, id, ruleForTier(ac.Tier))
	if err != nil {
		a.log.Error("rate check falló", zap.Error(err))
		res.Reason = ReasonRateLimited
		return false
	}
	if dec.Action != hardening.ActionAllow {
		res.Reason = ReasonRateLimited
		return false
	}
	return true
}

func ruleForTier(tier int) string {
	switch tier {
	case T1:
		return hardening.RuleGlobal
	case T5:
		return hardening.RuleBiometric
	default:
		return hardening.RuleAuthentication
	}
}

func (a *Authenticator) recordPasswordFailure(ctx context.Context, ac AuthContext, subjectID string, lock core.Lockout, now time.Time) {
	if lock.SubjectID == "" || now.Sub(lock.WindowStart) > a.lockWindow {
		lock = core.Lockout{SubjectID: subjectID, WindowStart: now}
	}
	lock.Failures++
	if lock.Failures >= a.lockMaxFailures {
		lock.LockedUntil = now.Add(a.lockDuration)
		a.log.Warn("cuenta bloqueada por fallos de password",
			zap.String("subject", subjectID),
			zap.Int("failures", lock.Failures),
			zap.Time("locked_until", lock.LockedUntil),
		)
		a.reportEvent(hardening.SecurityEvent{
			Type:        "account_locked",
			ThreatLevel: hardening.ThreatHigh,
			Actor:       subjectID,
			Action:      "lock",
			Detail:      map[string]any{"failures": lock.Failures, "ip": ac.IP},
		})
	}
	if err := a.subjects.PutLockout(ctx, lock); err != nil {
		a.log.Error("persistencia de lockout falló", zap.Error(err))
	}
}

func (a *Authenticator) policyCheck(ctx context.Context, kind string, ac AuthContext) (guardian.Decision, error) {
	pctx, cancel := context.WithTimeout(ctx, a.policyTimeout)
	defer cancel()
	return a.guardian.ValidateAction(pctx, guardian.Action{
		Kind:      kind,
		Subject:   ac.Username,
		Tier:      ac.Tier,
		IP:        ac.IP,
		UserAgent: ac.UserAgent,
	})
}

// postCheck notifica el desenlace al colaborador de política en segundo
// plano. Es monitoreo puro: el resultado ya está decidido.
func (a *Authenticator) postCheck(ac AuthContext, res Result) {
	g := a.guardian
	if _, ok := g.(guardian.Noop); ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.policyTimeout)
		defer cancel()
		outcome := "rejected"
		if res.OK {
			outcome = "granted"
		}
		err := g.MonitorBehavior(ctx, guardian.Event{
			Type:        "tier_authentication",
			ThreatLevel: "low",
			Actor:       ac.Username,
			Action:      outcome,
			At:          a.now(),
			Detail: map[string]any{
				"tier":   ac.Tier,
				"reason": res.Reason,
				"ip":     ac.IP,
			},
		})
		if err != nil {
			a.log.Debug("post-check de política falló", zap.Error(err))
		}
	}()
}

func (a *Authenticator) reportEvent(e hardening.SecurityEvent) {
	if a.hardening == nil {
		return
	}
	a.hardening.ReportEvent(e)
}
