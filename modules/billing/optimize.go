package billing

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/promptr-app/promptr/handler"
	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/metrics"
	svcbilling "github.com/promptr-app/promptr/svc/billing"
	"github.com/promptr-app/promptr/svc/optimizer"
)

// optimizePrompt streams the rewritten prompt as plain text. Gated users
// get a {"remaining":n} line and a blank line before the text. Quota is
// consumed only after the upstream stream opens.
func (m *Module) optimizePrompt(ctx handler.Context, req optimizer.Request) handler.Response {
	userID, err := currentUser(ctx)
	if err != nil {
		return handler.Fail(err)
	}

	adm, err := m.gate.Check(ctx, userID)
	if err != nil {
		return handler.Fail(err)
	}

	stream, err := m.optimizer.Optimize(ctx, req)
	if err != nil {
		metrics.OptimizeStreamsTotal.WithLabelValues("rejected").Inc()
		return handler.Fail(err)
	}

	prefix := ""
	if adm.Gated {
		remaining, err := m.gate.Consume(ctx, userID)
		if err != nil {
			_ = stream.Close()
			metrics.OptimizeStreamsTotal.WithLabelValues("rejected").Inc()
			return handler.Fail(err)
		}
		prefix = fmt.Sprintf("{\"remaining\":%d}\n\n", remaining)
	}

	log := m.log.With(logger.UserID(userID))
	return handler.Stream("text/plain; charset=utf-8", func(w io.Writer, flush func()) error {
		defer stream.Close()
		if prefix != "" {
			if _, err := io.WriteString(w, prefix); err != nil {
				return nil
			}
			flush()
		}
		n, err := stream.Copy(w, flush)
		if err != nil {
			// The status line is already sent; the client sees a truncated body.
			metrics.OptimizeStreamsTotal.WithLabelValues("interrupted").Inc()
			log.WarnContext(ctx, "optimization stream interrupted", logger.Error(err), slog.Int64("bytes", n))
			return nil
		}
		metrics.OptimizeStreamsTotal.WithLabelValues("completed").Inc()
		return nil
	})
}

type trialResponse struct {
	Success   bool `json:"success"`
	Remaining int  `json:"remaining"`
}

// decreaseTrial consumes one free optimization without running one. Paid
// users are answered with their untouched quota.
func (m *Module) decreaseTrial(ctx handler.Context, _ struct{}) handler.Response {
	userID, err := currentUser(ctx)
	if err != nil {
		return handler.Fail(err)
	}

	adm, err := m.gate.Admit(ctx, userID)
	if err != nil {
		if errors.Is(err, svcbilling.ErrQuotaExhausted) {
			m.log.InfoContext(ctx, "trial quota exhausted", logger.UserID(userID))
		}
		return handler.Fail(err)
	}
	if !adm.Gated {
		ent, err := m.store.Get(ctx, userID)
		if err != nil {
			return handler.Fail(err)
		}
		return handler.JSON(trialResponse{Success: true, Remaining: ent.User.PromptOptimizations})
	}
	return handler.JSON(trialResponse{Success: true, Remaining: adm.Remaining})
}
