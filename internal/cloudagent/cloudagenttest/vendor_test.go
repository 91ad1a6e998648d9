// ABOUTME: Tests for the fake cloud agent service
// ABOUTME: Covers rejection of unsigned, mistimed and undecodable requests

package cloudagenttest

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solace/internal/cloudagent"
)

func signedQuery(appID, secret, ts string) url.Values {
	q := url.Values{}
	q.Set("Action", cloudagent.ActionDeleteAgentInstance)
	q.Set("AppId", appID)
	q.Set("SignatureNonce", "abcd")
	q.Set("Timestamp", ts)
	q.Set("Signature", cloudagent.Sign(appID, "abcd", secret, 1700000000))
	return q
}

func post(t *testing.T, v *Vendor, q url.Values, body string) (*http.Response, cloudagent.Response) {
	t.Helper()
	res, err := http.Post(v.URL()+"?"+q.Encode(), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })

	var env cloudagent.Response
	if res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	}
	return res, env
}

func TestVendor_AcceptsSignedRequest(t *testing.T) {
	v := NewVendor("1234", "secret")
	defer v.Close()

	res, env := post(t, v, signedQuery("1234", "secret", "1700000000"), `{"AgentInstanceId":"inst-1"}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, env.Code)

	calls := v.CallsFor(cloudagent.ActionDeleteAgentInstance)
	require.Len(t, calls, 1)
	assert.Equal(t, "inst-1", calls[0].Body["AgentInstanceId"])
}

func TestVendor_BadTimestampIsUnauthorized(t *testing.T) {
	v := NewVendor("1234", "secret")
	defer v.Close()

	res, env := post(t, v, signedQuery("1234", "secret", "soon"), `{}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 401, env.Code)
	assert.Equal(t, "bad timestamp", env.Message)
}

func TestVendor_MalformedBodyIsBadRequest(t *testing.T) {
	v := NewVendor("1234", "secret")
	defer v.Close()

	res, _ := post(t, v, signedQuery("1234", "secret", "1700000000"), `{"AgentInstanceId":`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Empty(t, v.Calls())
}

func TestVendor_EmptyBodyIsAccepted(t *testing.T) {
	v := NewVendor("1234", "secret")
	defer v.Close()

	res, env := post(t, v, signedQuery("1234", "secret", "1700000000"), "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0, env.Code)
	assert.Len(t, v.Calls(), 1)
}
