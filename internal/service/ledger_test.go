package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/owa-release/internal/domain"
	"github.com/ayo6706/owa-release/internal/models"
	"github.com/ayo6706/owa-release/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(amounts ...int64) []models.LedgerEntry {
	var (
		entries []models.LedgerEntry
		prev    string
		balance int64
	)
	for i, amount := range amounts {
		balance += amount
		receipt := sha256.Sum256([]byte{byte(i)})
		receiptHash := hex.EncodeToString(receipt[:])
		hash := ChainHash(prev, receiptHash, balance)
		entries = append(entries, models.LedgerEntry{
			ID:                int64(i + 1),
			AmountCents:       amount,
			BalanceAfterCents: balance,
			BankReceiptHash:   receiptHash,
			PrevHash:          prev,
			HashAfter:         hash,
		})
		prev = hash
	}
	return entries
}

func TestChainHash_LinksBalanceAndReceipt(t *testing.T) {
	h0 := ChainHash("", "r0", 50000)
	h1 := ChainHash(h0, "r1", 30000)

	assert.Len(t, h0, 64)
	assert.NotEqual(t, h0, h1)
	assert.Equal(t, h1, ChainHash(h0, "r1", 30000))
	assert.NotEqual(t, h1, ChainHash(h0, "r1", 30001))
}

func TestVerifyEntries(t *testing.T) {
	scope := domain.NewScope("12345678901", "GST", "2025-Q1")

	t.Run("valid chain", func(t *testing.T) {
		require.NoError(t, VerifyEntries(scope, buildChain(50000, -20000, 5000)))
	})

	t.Run("empty ledger", func(t *testing.T) {
		require.NoError(t, VerifyEntries(scope, nil))
	})

	t.Run("tampered balance", func(t *testing.T) {
		entries := buildChain(50000, -20000)
		entries[1].BalanceAfterCents = 40000
		err := VerifyEntries(scope, entries)
		require.Error(t, err)

		var integrity *domain.LedgerIntegrityError
		require.True(t, errors.As(err, &integrity))
		assert.Equal(t, int64(2), integrity.EntryID)
		assert.ErrorIs(t, err, domain.ErrLedgerIntegrity)
	})

	t.Run("tampered receipt", func(t *testing.T) {
		entries := buildChain(50000, -20000)
		entries[0].BankReceiptHash = "forged"
		err := VerifyEntries(scope, entries)
		assert.ErrorIs(t, err, domain.ErrLedgerIntegrity)
	})

	t.Run("gap in ids", func(t *testing.T) {
		entries := buildChain(50000, -20000, 100)
		err := VerifyEntries(scope, append(entries[:1], entries[2:]...))
		assert.ErrorIs(t, err, domain.ErrLedgerIntegrity)
	})

	t.Run("broken prev link", func(t *testing.T) {
		entries := buildChain(50000, -20000)
		entries[1].PrevHash = entries[1].HashAfter
		err := VerifyEntries(scope, entries)
		assert.ErrorIs(t, err, domain.ErrLedgerIntegrity)
	})
}

func TestHistoricalAmountChangeInvalidatesLaterHashes(t *testing.T) {
	original := buildChain(50000, -20000, 5000, 700)

	// Rewrite entry 1 consistently, as a forger would, and carry the new balance forward.
	forged := append([]models.LedgerEntry(nil), original...)
	forged[0].AmountCents = 60000
	forged[0].BalanceAfterCents = 60000
	forged[0].HashAfter = ChainHash("", forged[0].BankReceiptHash, forged[0].BalanceAfterCents)
	for i := 1; i < len(forged); i++ {
		forged[i].BalanceAfterCents = forged[i-1].BalanceAfterCents + forged[i].AmountCents
		rederived := ChainHash(forged[i-1].HashAfter, forged[i].BankReceiptHash, forged[i].BalanceAfterCents)
		assert.NotEqual(t, original[i].HashAfter, rederived, "entry %d", forged[i].ID)
	}

	scope := domain.NewScope("12345678901", "GST", "2025-Q1")
	err := VerifyEntries(scope, forged)
	var integrity *domain.LedgerIntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, int64(2), integrity.EntryID)
}

func TestAppendConcurrentDepositsKeepChainLinear(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	scope := uniqueScope()

	_, err := env.periods.CreatePeriod(ctx, CreatePeriodRequest{Scope: scope, FinalLiabilityCents: 1000})
	require.NoError(t, err)

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- env.store.RunInTx(ctx, func(qtx *repository.Queries) error {
				_, err := env.ledger.Append(ctx, qtx, AppendParams{
					Scope:           scope,
					AmountCents:     100,
					BankReceiptHash: fmt.Sprintf("receipt-%02d", i),
					TransferUUID:    uuid.New(),
					ProviderPaidAt:  time.Now(),
				})
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := env.ledger.Entries(ctx, scope)
	require.NoError(t, err)
	require.Len(t, entries, workers)
	prevHashes := make(map[string]struct{}, workers)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.ID)
		assert.Equal(t, int64(100*(i+1)), e.BalanceAfterCents)
		_, dup := prevHashes[e.PrevHash]
		assert.False(t, dup, "prev_hash reused at entry %d", e.ID)
		prevHashes[e.PrevHash] = struct{}{}
	}

	status, err := env.ledger.VerifyChain(ctx, scope)
	require.NoError(t, err)
	assert.True(t, status.Valid)
	assert.Equal(t, workers, status.Entries)
	assert.Equal(t, entries[workers-1].HashAfter, status.Head)
}

func TestMerkleRoot(t *testing.T) {
	empty, err := MerkleRoot(nil)
	require.NoError(t, err)
	sum := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(sum[:]), empty)

	chain := buildChain(1, 2, 3)
	hashes := []string{chain[0].HashAfter, chain[1].HashAfter, chain[2].HashAfter}

	single, err := MerkleRoot(hashes[:1])
	require.NoError(t, err)
	assert.Equal(t, hashes[0], single)

	// An odd level duplicates its last node.
	odd, err := MerkleRoot(hashes)
	require.NoError(t, err)
	padded, err := MerkleRoot(append(append([]string{}, hashes...), hashes[2]))
	require.NoError(t, err)
	assert.Equal(t, padded, odd)

	swapped, err := MerkleRoot([]string{hashes[1], hashes[0], hashes[2]})
	require.NoError(t, err)
	assert.NotEqual(t, odd, swapped)

	_, err = MerkleRoot([]string{"not-hex"})
	assert.Error(t, err)
}
