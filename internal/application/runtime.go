package application

import (
	"context"
	"errors"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
	"github.com/ethereum/go-ethereum/common"
)

// RuntimeStatus is a point-in-time view over every component. Ready is
// derived, never stored.
type RuntimeStatus struct {
	Wallet      domain.WalletState
	Instance    InstanceSession
	Contract    common.Address
	ChainName   string
	ContractErr error
	Ready       bool
}

// Runtime composes the session, the instance manager and the pipeline.
type Runtime struct {
	session   *SessionService
	instances *InstanceManager
	binder    ports.ContractBinder
	reader    *ScoreReader
	actions   *ActionService
	signers   ports.SignerFactory

	unsubscribe func()
}

func NewRuntime(session *SessionService, instances *InstanceManager, binder ports.ContractBinder, reader *ScoreReader, actions *ActionService, signers ports.SignerFactory) *Runtime {
	return &Runtime{
		session:   session,
		instances: instances,
		binder:    binder,
		reader:    reader,
		actions:   actions,
		signers:   signers,
	}
}

// Start points the instance manager at the session's provider and chain and
// keeps it there as the session changes.
func (r *Runtime) Start() {
	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = r.session.Subscribe(func(state domain.WalletState) {
		r.retarget(state)
	})
	r.retarget(r.session.State())
}

func (r *Runtime) Stop() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.instances.Close()
}

func (r *Runtime) retarget(state domain.WalletState) {
	if !state.Connected() {
		r.instances.SetInputs(nil, nil)
		return
	}
	r.instances.SetInputs(r.session.Provider(), state.Snapshot.ChainID)
}

func (r *Runtime) Session() *SessionService {
	return r.session
}

func (r *Runtime) Instances() *InstanceManager {
	return r.instances
}

func (r *Runtime) Actions() *ActionService {
	return r.actions
}

func (r *Runtime) Status() RuntimeStatus {
	status := RuntimeStatus{
		Wallet:   r.session.State(),
		Instance: r.instances.Session(),
	}

	contract, err := r.contract(status.Wallet)
	if err != nil {
		status.ContractErr = err
	} else {
		status.Contract = contract.Address()
		status.ChainName = contract.ChainName()
	}

	status.Ready = status.Wallet.Connected() &&
		status.ContractErr == nil &&
		r.signer(status.Wallet) != nil &&
		status.Instance.Status == domain.FhevmStatusReady
	return status
}

func (r *Runtime) Ready() bool {
	return r.Status().Ready
}

// Refetch reads the account's handles and, when an instance and a signer
// are available, decrypts them.
func (r *Runtime) Refetch(ctx context.Context) (domain.AggregateView, error) {
	state := r.session.State()
	if !state.Connected() {
		return domain.AggregateView{}, domain.ErrWalletOrInstanceNotReady
	}
	contract, err := r.contract(state)
	if err != nil {
		return domain.AggregateView{}, err
	}

	account := common.HexToAddress(state.Snapshot.ActiveAccount())
	bundle, err := r.reader.FetchHandles(ctx, contract, account)
	if err != nil {
		return domain.AggregateView{}, err
	}
	view := domain.AggregateView{Handles: bundle}

	instance := r.instances.Session()
	signer := r.signer(state)
	if instance.Status != domain.FhevmStatusReady || signer == nil {
		return view, nil
	}

	decrypted, err := r.reader.Decrypt(ctx, instance.Instance, signer, contract.Address(), bundle)
	if err != nil {
		return view, err
	}
	view.Decrypted = &decrypted
	return view, nil
}

func (r *Runtime) SubmitAction(ctx context.Context, submission domain.ActionSubmission) (domain.TxReceipt, error) {
	target, err := r.target()
	if err != nil {
		return domain.TxReceipt{}, err
	}
	return r.actions.SubmitAction(ctx, target, submission)
}

func (r *Runtime) ClaimReward(ctx context.Context, amount int64) (domain.TxReceipt, error) {
	target, err := r.target()
	if err != nil {
		return domain.TxReceipt{}, err
	}
	return r.actions.ClaimReward(ctx, target, amount)
}

func (r *Runtime) target() (ActionTarget, error) {
	status := r.Status()
	if !status.Ready {
		if errors.Is(status.ContractErr, domain.ErrContractUnavailable) {
			return ActionTarget{}, status.ContractErr
		}
		return ActionTarget{}, domain.ErrWalletOrInstanceNotReady
	}

	contract, err := r.contract(status.Wallet)
	if err != nil {
		return ActionTarget{}, err
	}
	return ActionTarget{
		Contract: contract,
		Instance: status.Instance.Instance,
		Account:  common.HexToAddress(status.Wallet.Snapshot.ActiveAccount()),
	}, nil
}

func (r *Runtime) contract(state domain.WalletState) (ports.GreenScoreContract, error) {
	provider := r.session.Provider()
	if provider == nil || state.Snapshot.ChainID == nil {
		return nil, domain.ErrWalletOrInstanceNotReady
	}
	return r.binder.Bind(provider, *state.Snapshot.ChainID)
}

func (r *Runtime) signer(state domain.WalletState) ports.Signer {
	provider := r.session.Provider()
	account := state.Snapshot.ActiveAccount()
	if r.signers == nil || provider == nil || !common.IsHexAddress(account) {
		return nil
	}
	return r.signers(provider, common.HexToAddress(account))
}
