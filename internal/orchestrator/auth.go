package orchestrator

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/store"
)

// NewSecretVerifier builds the agentlink.SecretVerifier used during the
// §4.8 registration handshake: an agent is accepted only if its id is on
// record and its secret matches exactly (constant-time compare).
func NewSecretVerifier(st store.Store) agentlink.SecretVerifier {
	return func(ctx context.Context, agentID, secret string) (*model.Agent, error) {
		agent, err := st.Agents().FindByID(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("unknown agent %s: %w", agentID, err)
		}
		if subtle.ConstantTimeCompare([]byte(agent.Secret), []byte(secret)) != 1 {
			return nil, fmt.Errorf("secret mismatch for agent %s", agentID)
		}
		return agent, nil
	}
}
