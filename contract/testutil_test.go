package contract

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// fakeStub is a state-map backed stand-in for the real stub. Unimplemented
// methods panic via the embedded nil interface, which is what we want in a
// test that strays outside the supported surface.
type fakeStub struct {
	shim.ChaincodeStubInterface
	state  map[string][]byte
	txID   string
	txTime time.Time
	events map[string][]byte
}

func newFakeStub() *fakeStub {
	return &fakeStub{
		state:  map[string][]byte{},
		txID:   "tx-0001",
		txTime: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
		events: map[string][]byte{},
	}
}

func (f *fakeStub) GetState(key string) ([]byte, error) {
	return f.state[key], nil
}

func (f *fakeStub) PutState(key string, value []byte) error {
	f.state[key] = value
	return nil
}

func (f *fakeStub) DelState(key string) error {
	delete(f.state, key)
	return nil
}

func (f *fakeStub) GetTxID() string {
	return f.txID
}

func (f *fakeStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(f.txTime), nil
}

func (f *fakeStub) SetEvent(name string, payload []byte) error {
	f.events[name] = payload
	return nil
}

// GetQueryResult supports the equality selectors the contract actually
// issues: {"selector":{"field":"value",...}}.
func (f *fakeStub) GetQueryResult(query string) (shim.StateQueryIteratorInterface, error) {
	var parsed struct {
		Selector map[string]interface{} `json:"selector"`
	}
	if err := json.Unmarshal([]byte(query), &parsed); err != nil {
		return nil, fmt.Errorf("bad query %q: %w", query, err)
	}

	keys := make([]string, 0, len(f.state))
	for k := range f.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var kvs []*queryresult.KV
	for _, k := range keys {
		var doc map[string]interface{}
		if err := json.Unmarshal(f.state[k], &doc); err != nil {
			continue
		}
		match := true
		for field, want := range parsed.Selector {
			if doc[field] != want {
				match = false
				break
			}
		}
		if match {
			kvs = append(kvs, &queryresult.KV{Key: k, Value: f.state[k]})
		}
	}
	return &fakeIterator{kvs: kvs}, nil
}

type fakeIterator struct {
	shim.StateQueryIteratorInterface
	kvs []*queryresult.KV
	pos int
}

func (it *fakeIterator) HasNext() bool {
	return it.pos < len(it.kvs)
}

func (it *fakeIterator) Next() (*queryresult.KV, error) {
	if it.pos >= len(it.kvs) {
		return nil, fmt.Errorf("iterator exhausted")
	}
	kv := it.kvs[it.pos]
	it.pos++
	return kv, nil
}

func (it *fakeIterator) Close() error { return nil }

// fakeClientIdentity satisfies cid.ClientIdentity with a fixed id and
// attribute map.
type fakeClientIdentity struct {
	id    string
	attrs map[string]string
}

func (f *fakeClientIdentity) GetID() (string, error)    { return f.id, nil }
func (f *fakeClientIdentity) GetMSPID() (string, error) { return "Org1MSP", nil }
func (f *fakeClientIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, nil
}

func (f *fakeClientIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	v, ok := f.attrs[attrName]
	return v, ok, nil
}

func (f *fakeClientIdentity) AssertAttributeValue(attrName, attrValue string) error {
	v, ok := f.attrs[attrName]
	if !ok || v != attrValue {
		return fmt.Errorf("attribute '%s' does not have value '%s'", attrName, attrValue)
	}
	return nil
}

// newTestContext builds a real contractapi context carrying the fake stub
// and a caller with the given id and role. An empty role means the caller
// has no role attribute at all.
func newTestContext(stub *fakeStub, callerID, role string) *contractapi.TransactionContext {
	attrs := map[string]string{}
	if role != "" {
		attrs[roleAttribute] = role
	}
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(stub)
	ctx.SetClientIdentity(&fakeClientIdentity{id: callerID, attrs: attrs})
	return ctx
}

// testPrincipal bundles an RSA key pair with its PEM-encoded public half.
type testPrincipal struct {
	id         string
	privateKey *rsa.PrivateKey
	publicPEM  []byte
}

func newTestPrincipal(t *testing.T, id string) *testPrincipal {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &testPrincipal{id: id, privateKey: key, publicPEM: pemBytes}
}

// unwrap decrypts a wrapped key with the principal's private half.
func (p *testPrincipal) unwrap(t *testing.T, wrapped []byte) []byte {
	t.Helper()
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, p.privateKey, wrapped, nil)
	require.NoError(t, err)
	return plain
}

// register stores the principal in the directory through the contract
// surface, acting as the principal itself.
func (p *testPrincipal) register(t *testing.T, contract *EhrSmartContract, stub *fakeStub) {
	t.Helper()
	ctx := newTestContext(stub, p.id, "")
	require.NoError(t, contract.RegisterPrincipal(ctx, string(p.publicPEM)))
}
