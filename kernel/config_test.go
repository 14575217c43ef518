package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullEnv() map[string]string {
	env := make(map[string]string, len(requiredKeys))
	for _, key := range requiredKeys {
		env[key] = "set"
	}
	return env
}

func TestMissingKeysComplete(t *testing.T) {
	assert.Empty(t, missingKeys(fullEnv()))
}

func TestMissingKeysReportsAllAtOnce(t *testing.T) {
	assert.ElementsMatch(t, requiredKeys, missingKeys(map[string]string{}))
	assert.ElementsMatch(t, requiredKeys, missingKeys(nil))
}

func TestMissingKeysNamesEachAbsentKey(t *testing.T) {
	for _, key := range requiredKeys {
		env := fullEnv()
		delete(env, key)
		assert.Equal(t, []string{key}, missingKeys(env), "dropping %s must report exactly it", key)
	}

	// an empty value counts as unset, and gaps are collected together
	env := fullEnv()
	delete(env, "MPESA_PASSKEY")
	env["LEDGER_URL"] = ""
	assert.ElementsMatch(t, []string{"MPESA_PASSKEY", "LEDGER_URL"}, missingKeys(env))
}
