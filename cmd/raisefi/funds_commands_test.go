package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/raisefi/client"
)

const (
	testFund = "0x00000000000000000000000000000000000000A1"
	testFrom = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testHash = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"raisefi"}, args...))
	return out.String(), err
}

func TestListFundsCommand_JQFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/funds", r.URL.Path)
		assert.Equal(t, "/donate", r.URL.Query().Get("page"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"funds": []map[string]interface{}{
				{"address": testFund, "owner": testFrom, "target_amount": "100", "raised_amount": "80", "progress": 80, "visible": true, "show_donate": true},
				{"address": "0x00000000000000000000000000000000000000B2", "owner": testFrom, "target_amount": "100", "raised_amount": "10", "progress": 10, "visible": true, "show_donate": true},
			},
			"count": 2,
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "--json",
		"funds", "list", "--page", "/donate", "--jq", ".progress > 50")
	require.NoError(t, err)

	var funds []client.Fund
	require.NoError(t, json.Unmarshal([]byte(out), &funds))
	require.Len(t, funds, 1)
	assert.Equal(t, testFund, funds[0].Address)
}

func TestListFundsCommand_Table(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"funds": []map[string]interface{}{
				{"address": testFund, "owner": testFrom, "target_amount": "100", "raised_amount": "40", "progress": 40, "ends_on": "Fri Mar 14 2025", "show_donate": true},
				{"address": "0x00000000000000000000000000000000000000B2", "loading": true},
			},
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "funds", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ADDRESS")
	assert.Contains(t, out, "Fri Mar 14 2025")
	assert.Contains(t, out, "40.0%")
	assert.Contains(t, out, "(loading)")
}

func TestListFundsCommand_InvalidJQ(t *testing.T) {
	_, err := runApp(t, "--server-url", "http://127.0.0.1:0", "funds", "list", "--jq", ".progress >")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestShowFundCommand_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "fund not found"})
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "funds", "show", testFund)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestShowFundCommand_RequiresAddress(t *testing.T) {
	_, err := runApp(t, "funds", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fund address")
}

func TestCreateFundCommand_Wait(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/v1/funds":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, testFrom, body["from"])
			assert.Equal(t, "Medical", body["fundReason"])
			assert.Equal(t, "Help Ana", body["fundRaiserTitle"])
			assert.Equal(t, "30", body["fundPeriodInDays"])
			assert.Equal(t, "2000", body["fundAmount"])
			writeJSON(w, http.StatusAccepted, map[string]string{
				"hash": testHash, "kind": "create_fund", "from": testFrom, "amount": "2000", "status": "pending",
			})
		case r.URL.Path == "/api/v1/transactions/"+testHash:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"hash":     testHash,
				"tracking": map[string]interface{}{"hash": testHash, "kind": "create_fund", "status": "confirmed", "fund": testFund, "block_number": 12},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "--json",
		"funds", "create",
		"--from", testFrom,
		"--reason", "Medical",
		"--title", "Help Ana",
		"--description", "Surgery costs for my sister",
		"--period-days", "30",
		"--amount", "2000",
		"--wait", "--interval", "10ms", "--timeout", "5s",
	)
	require.NoError(t, err)

	var status client.TransactionStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "confirmed", status.Status())
	require.NotNil(t, status.Tracking)
	assert.Equal(t, testFund, status.Tracking.Fund)
}

func TestDonateCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/funds/"+testFund+"/donations", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0.5", body["amount"])
		writeJSON(w, http.StatusAccepted, map[string]string{
			"hash": testHash, "kind": "donation", "from": testFrom, "fund": testFund, "amount": "500000000000000000", "status": "pending",
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "funds", "donate", "--from", testFrom, testFund, "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Transaction sent: "+testHash)
	assert.Contains(t, out, "500000000000000000")
}

func TestDonateCommand_FailedReceipt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			writeJSON(w, http.StatusAccepted, map[string]string{"hash": testHash, "kind": "donation", "status": "pending"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"hash":     testHash,
			"tracking": map[string]interface{}{"status": "failed", "error": "execution reverted"},
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL,
		"funds", "donate", "--from", testFrom, "--wait", "--interval", "10ms", testFund, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, "execution reverted")
}

func TestDonateCommand_RequiresFrom(t *testing.T) {
	_, err := runApp(t, "funds", "donate", testFund, "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from")
}

func TestValidateCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/drafts/validate", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":  false,
			"errors": map[string]string{"fundAmount": "Please enter a valid amount"},
			"ready":  false,
			"reason": "wallet not connected",
		})
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "funds", "validate", "--amount", "abc")
	require.NoError(t, err)
	assert.Contains(t, out, "fundAmount: Please enter a valid amount")
	assert.Contains(t, out, "Not ready: wallet not connected")
}

func TestAwaitCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/funds/"+testFund, r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		events := []client.FundEvent{
			{Type: "submitted", Kind: "donation", Hash: testHash, Fund: testFund, Amount: "1"},
			{Type: "confirmed", Kind: "donation", Hash: "0xother", Fund: testFund, Amount: "7"},
			{Type: "confirmed", Kind: "donation", Hash: testHash, Fund: testFund, Amount: "1"},
		}
		for _, e := range events {
			data, _ := json.Marshal(e)
			fmt.Fprintf(w, "event: fund\ndata: %s\n\n", data)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "--json",
		"funds", "await", "--hash", testHash, "--jq", `.kind == "donation"`, "--timeout", "5s", testFund)
	require.NoError(t, err)

	var event client.FundEvent
	require.NoError(t, json.Unmarshal([]byte(out), &event))
	assert.Equal(t, "confirmed", event.Type)
	assert.Equal(t, testHash, event.Hash)
}

func TestAwaitCommand_RequiresFilter(t *testing.T) {
	_, err := runApp(t, "funds", "await", testFund)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must specify at least one filter")
}
