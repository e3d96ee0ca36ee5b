// Package logger centraliza la configuración de zap para todo el proceso.
//
// El paquete expone un logger raíz que se inicializa una sola vez en el
// arranque (Init) y del cual se derivan loggers con nombre para cada
// componente. Los servicios NO llaman a L() directamente: reciben su
// *zap.Logger por inyección en su struct de dependencias, de modo que los
// tests puedan pasar zap.NewNop() sin tocar estado global.
//
// # Decisiones
//
//   - Formato JSON en producción, console en desarrollo (DevMode).
//   - Los campos de dominio (subject, tier, client_id, threat_level, ...)
//     tienen helpers tipados en fields.go para mantener las claves estables.
//   - From(ctx) recupera el logger enriquecido con request_id que inyecta
//     el middleware HTTP; si no hay nada en el contexto devuelve el raíz.
//
// # Uso
//
//	log := logger.Named("tiered")
//	log.Info("tier granted",
//	    logger.Subject(sub),
//	    logger.Tier(3),
//	)
package logger
