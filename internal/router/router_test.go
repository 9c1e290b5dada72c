package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_MatchesFirstPathSegment(t *testing.T) {
	m, ok := resolve(FrontendMapping, "agents/list")
	assert.True(t, ok)
	assert.Equal(t, "agent-service", m.ServiceName)
}

func TestResolve_UnknownPrefixMisses(t *testing.T) {
	_, ok := resolve(FrontendMapping, "nonexistent/thing")
	assert.False(t, ok)
}

func TestValidatePrefix_RejectsEmbeddedAPI(t *testing.T) {
	assert.False(t, validatePrefix("/api/frontend"))
	assert.True(t, validatePrefix("/frontend"))
}

func TestSystemModeFor_LocalPrefixesVsForward(t *testing.T) {
	assert.Equal(t, modeLocal, systemModeFor("tasks"))
	assert.Equal(t, modeLocal, systemModeFor("services"))
	assert.Equal(t, modeLocal, systemModeFor("monitoring"))
	assert.Equal(t, modeLocal, systemModeFor("config"))
	assert.Equal(t, modeForward, systemModeFor("agents"))
}

func TestIsExempt_OnlyAuthLoginAndRegister(t *testing.T) {
	assert.True(t, isExempt("auth/login"))
	assert.True(t, isExempt("auth/register"))
	assert.False(t, isExempt("auth/logout"))
}
