package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmxdawn/paywallet/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// DefaultPaymentKeys 默认派生的收付款地址个数
const DefaultPaymentKeys = 10

// 身份 m/0'/1/0  收付款 m/44'/60'/0'/0/i
var (
	identityPath = []uint32{bip32.FirstHardenedChild, 1, 0}
	paymentPath  = []uint32{bip32.FirstHardenedChild + 44, bip32.FirstHardenedChild + 60, bip32.FirstHardenedChild, 0}
)

// IndexStore 持久化当前的钱包下标
type IndexStore interface {
	LoadWalletIndex() (int, bool, error)
	SaveWalletIndex(index int) error
}

// HDWallet 确定性钱包 一个身份密钥 多个收付款密钥
type HDWallet struct {
	mnemonic    string
	identityKey *ecdsa.PrivateKey
	paymentKeys []*ecdsa.PrivateKey
	store       IndexStore

	mu        sync.Mutex
	index     int
	published bool
}

// NewMnemonic 生成新的助记词
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NewWallet 新建一个钱包 同时返回助记词
func NewWallet(store IndexStore, paymentKeys int) (*HDWallet, error) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		return nil, errors.Wrap(err, "generate mnemonic")
	}
	return FromMnemonic(mnemonic, store, paymentKeys)
}

// FromMnemonic 通过助记词恢复钱包
func FromMnemonic(mnemonic string, store IndexStore, paymentKeys int) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(err, "mnemonic seed")
	}
	w, err := FromSeed(seed, store, paymentKeys)
	if err != nil {
		return nil, err
	}
	w.mnemonic = mnemonic
	return w, nil
}

// FromSeed 通过主种子派生所有密钥
func FromSeed(seed []byte, store IndexStore, paymentKeys int) (*HDWallet, error) {
	if paymentKeys <= 0 {
		return nil, ErrNoPaymentKeys
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "master key")
	}
	identity, err := derivePath(master, identityPath...)
	if err != nil {
		return nil, errors.Wrap(err, "derive identity key")
	}
	account, err := deriveKey(master, paymentPath...)
	if err != nil {
		return nil, errors.Wrap(err, "derive payment account")
	}
	keys := make([]*ecdsa.PrivateKey, 0, paymentKeys)
	for i := 0; i < paymentKeys; i++ {
		key, err := derivePath(account, uint32(i))
		if err != nil {
			return nil, errors.Wrapf(err, "derive payment key %d", i)
		}
		keys = append(keys, key)
	}
	return FromKeys(identity, keys, store)
}

// FromKeys 通过已经派生好的密钥构建钱包
func FromKeys(identity *ecdsa.PrivateKey, paymentKeys []*ecdsa.PrivateKey, store IndexStore) (*HDWallet, error) {
	if identity == nil {
		return nil, errors.New("identity key is nil")
	}
	if len(paymentKeys) == 0 {
		return nil, ErrNoPaymentKeys
	}
	w := &HDWallet{
		identityKey: identity,
		paymentKeys: paymentKeys,
		store:       store,
	}
	if store != nil {
		index, ok, err := store.LoadWalletIndex()
		if err != nil {
			return nil, errors.Wrap(err, "load wallet index")
		}
		if ok && index >= 0 && index < len(paymentKeys) {
			w.index = index
		} else if ok {
			log.Warn().Msgf("FromKeys stored wallet index %d out of range, reset to 0", index)
		}
	}
	w.published = true
	return w, nil
}

func deriveKey(parent *bip32.Key, path ...uint32) (*bip32.Key, error) {
	key := parent
	for _, child := range path {
		next, err := key.NewChildKey(child)
		if err != nil {
			return nil, err
		}
		key = next
	}
	return key, nil
}

func derivePath(parent *bip32.Key, path ...uint32) (*ecdsa.PrivateKey, error) {
	key, err := deriveKey(parent, path...)
	if err != nil {
		return nil, err
	}
	return crypto.ToECDSA(common.LeftPadBytes(key.Key, 32))
}

// Mnemonic 助记词 通过密钥构建的钱包为空
func (w *HDWallet) Mnemonic() string {
	return w.mnemonic
}

// PaymentKeyCount 收付款密钥个数
func (w *HDWallet) PaymentKeyCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.paymentKeys)
}

// IdentityAddress 身份地址 即 toshi id
func (w *HDWallet) IdentityAddress() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.identityKey == nil {
		return "", ErrUninitializedWallet
	}
	return crypto.PubkeyToAddress(w.identityKey.PublicKey).Hex(), nil
}

// IdentityPublicKey 压缩格式的身份公钥
func (w *HDWallet) IdentityPublicKey() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.identityKey == nil {
		return nil, ErrUninitializedWallet
	}
	return crypto.CompressPubkey(&w.identityKey.PublicKey), nil
}

// DeriveAddress 获取下标对应的收付款地址
func (w *HDWallet) DeriveAddress(index int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addressLocked(index)
}

func (w *HDWallet) addressLocked(index int) (string, error) {
	if index < 0 || index >= len(w.paymentKeys) {
		return "", errors.Wrapf(ErrInvalidIndex, "index %d", index)
	}
	return crypto.PubkeyToAddress(w.paymentKeys[index].PublicKey).Hex(), nil
}

// CurrentIndex 当前的钱包下标
func (w *HDWallet) CurrentIndex() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.published {
		return 0, ErrUninitializedWallet
	}
	return w.index, nil
}

// CurrentPaymentAddress 当前选中的收付款地址
func (w *HDWallet) CurrentPaymentAddress() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.published {
		return "", ErrUninitializedWallet
	}
	return w.addressLocked(w.index)
}

// SwitchAccount 切换当前的收付款密钥 并持久化
func (w *HDWallet) SwitchAccount(index int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.paymentKeys) {
		return w.index, errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", index, len(w.paymentKeys))
	}
	if w.store != nil {
		if err := w.store.SaveWalletIndex(index); err != nil {
			return w.index, errors.Wrap(err, "save wallet index")
		}
	}
	w.index = index
	w.published = true
	log.Info().Msgf("SwitchAccount current wallet index is %d", index)
	return index, nil
}

// AddressesWithLabels 所有的收付款地址 名称为 "Wallet N"
func (w *HDWallet) AddressesWithLabels() []types.AddressLabel {
	w.mu.Lock()
	defer w.mu.Unlock()
	res := make([]types.AddressLabel, 0, len(w.paymentKeys))
	for i, key := range w.paymentKeys {
		res = append(res, types.AddressLabel{
			Label:   fmt.Sprintf("Wallet %d", i+1),
			Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		})
	}
	return res
}

// Info 导出钱包信息
func (w *HDWallet) Info() (*types.Wallet, error) {
	identity, err := w.IdentityAddress()
	if err != nil {
		return nil, err
	}
	index, err := w.CurrentIndex()
	if err != nil {
		return nil, err
	}
	payment, err := w.CurrentPaymentAddress()
	if err != nil {
		return nil, err
	}
	return &types.Wallet{
		IdentityAddress: identity,
		PaymentAddress:  payment,
		Index:           index,
		Addresses:       w.AddressesWithLabels(),
	}, nil
}

// SignIdentity 使用身份密钥签名 keccak256(data)
func (w *HDWallet) SignIdentity(data []byte) ([]byte, error) {
	w.mu.Lock()
	key := w.identityKey
	w.mu.Unlock()
	return sign("sign identity", key, crypto.Keccak256(data))
}

// SignPersonalMessage EIP-191 personal_sign 使用当前的收付款密钥
func (w *HDWallet) SignPersonalMessage(data []byte) ([]byte, error) {
	key, err := w.currentKey()
	if err != nil {
		return nil, &SigningError{Op: "sign personal message", Err: err}
	}
	sig, err := sign("sign personal message", key, accounts.TextHash(data))
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTransaction 使用当前的收付款密钥签名 keccak256(payload) 返回 R||S||V V 为 0 或 1
func (w *HDWallet) SignTransaction(payload []byte) ([]byte, error) {
	key, err := w.currentKey()
	if err != nil {
		return nil, &SigningError{Op: "sign transaction", Err: err}
	}
	return sign("sign transaction", key, crypto.Keccak256(payload))
}

// SignWithoutRecoveryNormalization 与 SignTransaction 相同 但 V 为 27 或 28
func (w *HDWallet) SignWithoutRecoveryNormalization(payload []byte) ([]byte, error) {
	sig, err := w.SignTransaction(payload)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (w *HDWallet) currentKey() (*ecdsa.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.published || len(w.paymentKeys) == 0 {
		return nil, ErrUninitializedWallet
	}
	return w.paymentKeys[w.index], nil
}

func sign(op string, key *ecdsa.PrivateKey, hash []byte) ([]byte, error) {
	if key == nil {
		return nil, &SigningError{Op: op, Err: ErrUninitializedWallet}
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, &SigningError{Op: op, Err: err}
	}
	return sig, nil
}

// DeriveDatabaseEncryptionKey 本地加密数据库的密钥
// 身份私钥的前 32 字节重复两次组成 64 字节 已有的加密库依赖这个格式
func (w *HDWallet) DeriveDatabaseEncryptionKey() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.identityKey == nil {
		return nil, ErrUninitializedWallet
	}
	priv := crypto.FromECDSA(w.identityKey)
	key := make([]byte, 64)
	copy(key[:32], priv[:32])
	copy(key[32:], priv[:32])
	return key, nil
}

// Clear 退出登录时清除密钥
func (w *HDWallet) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.identityKey != nil {
		zeroKey(w.identityKey)
	}
	for _, k := range w.paymentKeys {
		zeroKey(k)
	}
	w.identityKey = nil
	w.paymentKeys = nil
	w.mnemonic = ""
	w.published = false
	w.index = 0
}

func zeroKey(k *ecdsa.PrivateKey) {
	if k.D == nil {
		return
	}
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
	k.D.SetInt64(0)
}
