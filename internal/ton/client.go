package ton

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

// Sentinel errors for the chain lookup, wrapped by the verifier into its
// error taxonomy.
var (
	ErrTxNotFound       = errors.New("transaction not found on chain")
	ErrChainUnavailable = errors.New("lite server unavailable")
)

// How many of the account's most recent transactions are scanned when
// resolving a payment reference. Payments are expected within minutes of
// submission, so a shallow scan is enough.
const txScanDepth = 256

// TxInfo is the parsed view of one incoming transfer to the merchant
// wallet, independent of the lite-server wire format.
type TxInfo struct {
	Hash       string
	Sender     string
	Recipient  string
	AmountNano int64
	Comment    string
	At         time.Time
}

// Client queries TON chain state through a lite-server connection pool.
type Client struct {
	api        ton.APIClientWrapped
	maxRetries uint
	retryDelay time.Duration
	log        *zap.Logger
}

func NewClient(ctx context.Context, configURL string, maxRetries int, retryDelay time.Duration, log *zap.Logger) (*Client, error) {
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("failed to connect to lite servers: %w", err)
	}

	api := ton.NewAPIClient(pool).WithRetry()
	log.Info("ton client connected", zap.String("config_url", configURL))

	return &Client{
		api:        api,
		maxRetries: uint(maxRetries),
		retryDelay: retryDelay,
		log:        log,
	}, nil
}

// FindIncomingTx locates an incoming internal transfer to accountAddr by
// transaction hash. The lookup retries with exponential backoff: a payment
// sent moments ago may not be finalized on the first attempt.
func (c *Client) FindIncomingTx(ctx context.Context, accountAddr, txHashHex string) (*TxInfo, error) {
	wantHash, err := hex.DecodeString(txHashHex)
	if err != nil || len(wantHash) != 32 {
		return nil, fmt.Errorf("%w: reference %q is not a transaction hash", ErrTxNotFound, txHashHex)
	}

	addr, err := address.ParseAddr(accountAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid account address %q: %w", accountAddr, err)
	}

	var found *TxInfo
	err = retry.Do(
		func() error {
			tx, err := c.scanForTx(ctx, addr, wantHash)
			if err != nil {
				return err
			}
			found = tx
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxRetries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("chain lookup retry", zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (c *Client) scanForTx(ctx context.Context, addr *address.Address, wantHash []byte) (*TxInfo, error) {
	master, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}

	acc, err := c.api.GetAccount(ctx, master, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if !acc.IsActive {
		return nil, ErrTxNotFound
	}

	lt, hash := acc.LastTxLT, acc.LastTxHash
	scanned := 0
	for scanned < txScanDepth {
		batch, err := c.api.ListTransactions(ctx, addr, 32, lt, hash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, tx := range batch {
			scanned++
			if info := matchIncoming(tx, wantHash, addr); info != nil {
				return info, nil
			}
		}

		oldest := batch[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}

	return nil, ErrTxNotFound
}

func matchIncoming(tx *tlb.Transaction, wantHash []byte, account *address.Address) *TxInfo {
	if !bytes.Equal(tx.Hash, wantHash) {
		return nil
	}
	if tx.IO.In == nil || tx.IO.In.MsgType != tlb.MsgTypeInternal {
		return nil
	}

	in := tx.IO.In.AsInternal()
	return &TxInfo{
		Hash:       hex.EncodeToString(tx.Hash),
		Sender:     in.SrcAddr.String(),
		Recipient:  account.String(),
		AmountNano: in.Amount.Nano().Int64(),
		Comment:    in.Comment(),
		At:         time.Unix(int64(tx.Now), 0),
	}
}
