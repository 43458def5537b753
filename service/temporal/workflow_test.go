package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/brojonat/raisefi/service/db"
	natspkg "github.com/brojonat/raisefi/service/nats"
)

const (
	testHash  = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	testOwner = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	testFund  = "0x00000000000000000000000000000000000000a1"
)

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.AwaitReceipt)
	env.RegisterActivity(activities.ResolveCreatedFund)
	env.RegisterActivity(activities.RecordTransactionStatus)
	env.RegisterActivity(activities.PublishFundEvent)
	return env, activities
}

func TestTrackTransactionWorkflow(t *testing.T) {
	tests := []struct {
		name        string
		input       TrackTransactionInput
		receipt     *AwaitReceiptResult
		receiptErr  error
		resolved    *ResolveCreatedFundResult
		wantStatus  string
		wantFund    string
		wantEvent   string
		wantError   string
		wantResolve bool
	}{
		{
			name:       "donation confirmed",
			input:      TrackTransactionInput{Hash: testHash, Kind: "donation", From: testOwner, Fund: testFund, Amount: "500"},
			receipt:    &AwaitReceiptResult{Hash: testHash, Success: true, BlockNumber: 100},
			wantStatus: db.StatusConfirmed,
			wantFund:   testFund,
			wantEvent:  natspkg.EventConfirmed,
		},
		{
			name:        "create fund resolves the new fund",
			input:       TrackTransactionInput{Hash: testHash, Kind: "create_fund", From: testOwner, Amount: "2000", PeriodDays: "30"},
			receipt:     &AwaitReceiptResult{Hash: testHash, Success: true, BlockNumber: 100},
			resolved:    &ResolveCreatedFundResult{Fund: testFund, Candidates: 1},
			wantStatus:  db.StatusConfirmed,
			wantFund:    testFund,
			wantEvent:   natspkg.EventConfirmed,
			wantResolve: true,
		},
		{
			name:       "reverted",
			input:      TrackTransactionInput{Hash: testHash, Kind: "create_fund", From: testOwner, Amount: "2000", PeriodDays: "30"},
			receipt:    &AwaitReceiptResult{Hash: testHash, Success: false, BlockNumber: 101},
			wantStatus: db.StatusFailed,
			wantEvent:  natspkg.EventFailed,
			wantError:  "transaction reverted",
		},
		{
			name:       "receipt never arrives",
			input:      TrackTransactionInput{Hash: testHash, Kind: "donation", From: testOwner, Fund: testFund, Amount: "1"},
			receiptErr: errors.New("rpc unavailable"),
			wantStatus: db.StatusFailed,
			wantFund:   testFund,
			wantEvent:  natspkg.EventFailed,
			wantError:  "receipt wait failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newWorkflowEnv(t)

			if tt.receiptErr != nil {
				env.OnActivity(activities.AwaitReceipt, mock.Anything, mock.Anything).Return(nil, tt.receiptErr)
			} else {
				env.OnActivity(activities.AwaitReceipt, mock.Anything, mock.Anything).Return(tt.receipt, nil)
			}

			resolveCalls := 0
			env.OnActivity(activities.ResolveCreatedFund, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { resolveCalls++ }).
				Return(tt.resolved, nil)

			var recorded RecordTransactionStatusInput
			env.OnActivity(activities.RecordTransactionStatus, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { recorded = args.Get(1).(RecordTransactionStatusInput) }).
				Return(&RecordTransactionStatusResult{Recorded: true}, nil)

			var published PublishFundEventInput
			env.OnActivity(activities.PublishFundEvent, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) { published = args.Get(1).(PublishFundEventInput) }).
				Return(nil)

			env.ExecuteWorkflow(TrackTransactionWorkflow, tt.input)

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var result TrackTransactionResult
			require.NoError(t, env.GetWorkflowResult(&result))

			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantFund, result.Fund)
			if tt.wantError != "" {
				require.NotNil(t, result.Error)
				assert.Contains(t, *result.Error, tt.wantError)
			} else {
				assert.Nil(t, result.Error)
			}

			if tt.wantResolve {
				assert.Equal(t, 1, resolveCalls)
			} else {
				assert.Zero(t, resolveCalls)
			}

			assert.Equal(t, tt.wantStatus, recorded.Status)
			assert.Equal(t, tt.input.Kind, recorded.Kind)
			if tt.wantFund != "" {
				require.NotNil(t, recorded.Fund)
				assert.Equal(t, tt.wantFund, *recorded.Fund)
			}

			assert.Equal(t, tt.wantEvent, published.Event.Type)
			assert.Equal(t, tt.input.Hash, published.Event.Hash)
			assert.Equal(t, tt.input.Amount, published.Event.Amount)
			assert.Equal(t, tt.wantFund, published.Event.Fund)
		})
	}
}

func TestTrackTransactionWorkflow_RecordFailure(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.AwaitReceipt, mock.Anything, mock.Anything).
		Return(&AwaitReceiptResult{Hash: testHash, Success: true, BlockNumber: 5}, nil)
	env.OnActivity(activities.RecordTransactionStatus, mock.Anything, mock.Anything).
		Return(nil, errors.New("database down"))

	publishCalls := 0
	env.OnActivity(activities.PublishFundEvent, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { publishCalls++ }).
		Return(nil)

	env.ExecuteWorkflow(TrackTransactionWorkflow, TrackTransactionInput{Hash: testHash, Kind: "donation", Fund: testFund})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
	assert.Zero(t, publishCalls)
}

func TestTrackTransactionWorkflow_PublishFailureIsNotFatal(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.AwaitReceipt, mock.Anything, mock.Anything).
		Return(&AwaitReceiptResult{Hash: testHash, Success: true, BlockNumber: 5}, nil)
	env.OnActivity(activities.RecordTransactionStatus, mock.Anything, mock.Anything).
		Return(&RecordTransactionStatusResult{Recorded: true}, nil)
	env.OnActivity(activities.PublishFundEvent, mock.Anything, mock.Anything).
		Return(errors.New("nats down"))

	env.ExecuteWorkflow(TrackTransactionWorkflow, TrackTransactionInput{Hash: testHash, Kind: "donation", Fund: testFund})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TrackTransactionResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, db.StatusConfirmed, result.Status)
}

func TestTrackTransactionWorkflow_UnresolvedFundStaysEmpty(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.AwaitReceipt, mock.Anything, mock.Anything).
		Return(&AwaitReceiptResult{Hash: testHash, Success: true, BlockNumber: 9}, nil)
	env.OnActivity(activities.ResolveCreatedFund, mock.Anything, mock.Anything).
		Return(&ResolveCreatedFundResult{Candidates: 0}, nil)

	var recorded RecordTransactionStatusInput
	env.OnActivity(activities.RecordTransactionStatus, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recorded = args.Get(1).(RecordTransactionStatusInput) }).
		Return(&RecordTransactionStatusResult{Recorded: true}, nil)
	env.OnActivity(activities.PublishFundEvent, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(TrackTransactionWorkflow, TrackTransactionInput{Hash: testHash, Kind: "create_fund", From: testOwner})

	require.NoError(t, env.GetWorkflowError())
	assert.Nil(t, recorded.Fund)
	assert.Equal(t, db.StatusConfirmed, recorded.Status)
}

func TestTrackTransactionWorkflow_WaitedSinceSubmission(t *testing.T) {
	env, activities := newWorkflowEnv(t)
	submitted := env.Now().Add(-2 * time.Minute)

	env.OnActivity(activities.AwaitReceipt, mock.Anything, mock.Anything).
		Return(&AwaitReceiptResult{Hash: testHash, Success: true, BlockNumber: 5}, nil)

	var recorded RecordTransactionStatusInput
	env.OnActivity(activities.RecordTransactionStatus, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recorded = args.Get(1).(RecordTransactionStatusInput) }).
		Return(&RecordTransactionStatusResult{Recorded: true}, nil)
	env.OnActivity(activities.PublishFundEvent, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(TrackTransactionWorkflow, TrackTransactionInput{
		Hash:        testHash,
		Kind:        "donation",
		Fund:        testFund,
		SubmittedAt: submitted,
	})

	require.NoError(t, env.GetWorkflowError())
	assert.GreaterOrEqual(t, recorded.Waited, 2*time.Minute)
}

func TestTrackTransactionWorkflow_StatusQuery(t *testing.T) {
	env, activities := newWorkflowEnv(t)

	env.OnActivity(activities.AwaitReceipt, mock.Anything, mock.Anything).
		Return(&AwaitReceiptResult{Hash: testHash, Success: true, BlockNumber: 5}, nil)
	env.OnActivity(activities.RecordTransactionStatus, mock.Anything, mock.Anything).
		Return(&RecordTransactionStatusResult{Recorded: true}, nil)
	env.OnActivity(activities.PublishFundEvent, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(TrackTransactionWorkflow, TrackTransactionInput{Hash: testHash, Kind: "donation", Fund: testFund})
	require.NoError(t, env.GetWorkflowError())

	value, err := env.QueryWorkflow(StatusQuery)
	require.NoError(t, err)

	var status TrackTransactionResult
	require.NoError(t, value.Get(&status))
	assert.Equal(t, db.StatusConfirmed, status.Status)
	require.NotNil(t, status.BlockNumber)
	assert.Equal(t, int64(5), *status.BlockNumber)
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "track-tx-0xabc", WorkflowID("0xabc"))
	assert.Equal(t, "track-tx-0xabc", WorkflowID("0xABC"))
}
