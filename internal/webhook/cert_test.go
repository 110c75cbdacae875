package webhook

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func testConfig() CertConfig {
	return DefaultCertConfig("shrike-system")
}

func TestEnsure_CreatesSecret(t *testing.T) {
	client := fake.NewSimpleClientset()
	m := NewCertManager(client, testConfig(), zap.NewNop())

	require.NoError(t, m.Ensure(context.Background()))

	secret, err := client.CoreV1().Secrets("shrike-system").
		Get(context.Background(), DefaultSecretName, metav1.GetOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, secret.Data["ca.crt"])
	assert.NotEmpty(t, secret.Data["tls.crt"])
	assert.NotEmpty(t, secret.Data["tls.key"])

	cert, key := m.ServingPair()
	assert.Equal(t, secret.Data["tls.crt"], cert)
	assert.Equal(t, secret.Data["tls.key"], key)
	assert.Equal(t, secret.Data["ca.crt"], m.CABundle())
}

func TestEnsure_ReusesValidSecret(t *testing.T) {
	client := fake.NewSimpleClientset()
	m := NewCertManager(client, testConfig(), zap.NewNop())

	require.NoError(t, m.Ensure(context.Background()))
	first := m.CABundle()

	m2 := NewCertManager(client, testConfig(), zap.NewNop())
	require.NoError(t, m2.Ensure(context.Background()))
	assert.Equal(t, first, m2.CABundle())
}

func TestEnsure_ServingPairIsValidTLS(t *testing.T) {
	m := NewCertManager(fake.NewSimpleClientset(), testConfig(), zap.NewNop())
	require.NoError(t, m.Ensure(context.Background()))

	cert, key := m.ServingPair()
	_, err := tls.X509KeyPair(cert, key)
	require.NoError(t, err)
}

func TestEnsure_ServingCertSignedByCA(t *testing.T) {
	m := NewCertManager(fake.NewSimpleClientset(), testConfig(), zap.NewNop())
	require.NoError(t, m.Ensure(context.Background()))

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(m.CABundle()))

	certPEM, _ := m.ServingPair()
	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:   pool,
		DNSName: "shrike-webhook.shrike-system.svc",
	})
	require.NoError(t, err)
	assert.Contains(t, cert.DNSNames, "shrike-webhook.shrike-system.svc.cluster.local")
	assert.True(t, cert.NotAfter.After(time.Now().Add(rotationThreshold)))
}

func TestSyncCABundle(t *testing.T) {
	client := fake.NewSimpleClientset(
		BuildWebhookConfiguration(testConfig(), nil, true),
	)
	m := NewCertManager(client, testConfig(), zap.NewNop())
	require.NoError(t, m.Ensure(context.Background()))

	require.NoError(t, m.SyncCABundle(context.Background()))

	vwc, err := client.AdmissionregistrationV1().ValidatingWebhookConfigurations().
		Get(context.Background(), DefaultWebhookConfigName, metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, vwc.Webhooks, 1)
	assert.Equal(t, m.CABundle(), vwc.Webhooks[0].ClientConfig.CABundle)

	// Second sync with an identical bundle is a no-op.
	require.NoError(t, m.SyncCABundle(context.Background()))
}

func TestSyncCABundle_MissingConfiguration(t *testing.T) {
	m := NewCertManager(fake.NewSimpleClientset(), testConfig(), zap.NewNop())
	require.NoError(t, m.Ensure(context.Background()))
	assert.Error(t, m.SyncCABundle(context.Background()))
}

func TestSyncCABundle_BeforeEnsure(t *testing.T) {
	m := NewCertManager(fake.NewSimpleClientset(), testConfig(), zap.NewNop())
	assert.Error(t, m.SyncCABundle(context.Background()))
}

func TestBuildWebhookConfiguration(t *testing.T) {
	cfg := testConfig()
	vwc := BuildWebhookConfiguration(cfg, []byte("ca-bundle"), true)

	assert.Equal(t, DefaultWebhookConfigName, vwc.Name)
	require.Len(t, vwc.Webhooks, 1)

	wh := vwc.Webhooks[0]
	assert.Equal(t, "validate.shrike.io", wh.Name)
	assert.Equal(t, admissionregistrationv1.Fail, *wh.FailurePolicy)
	assert.Equal(t, []byte("ca-bundle"), wh.ClientConfig.CABundle)
	assert.Equal(t, "shrike-system", wh.ClientConfig.Service.Namespace)
	assert.Equal(t, "shrike-webhook", wh.ClientConfig.Service.Name)
	assert.Equal(t, "/validate", *wh.ClientConfig.Service.Path)

	require.Len(t, wh.Rules, 1)
	assert.Equal(t, []string{"*"}, wh.Rules[0].APIGroups)
	assert.ElementsMatch(t,
		[]admissionregistrationv1.OperationType{admissionregistrationv1.Create, admissionregistrationv1.Update},
		wh.Rules[0].Operations)

	vwc = BuildWebhookConfiguration(cfg, nil, false)
	assert.Equal(t, admissionregistrationv1.Ignore, *vwc.Webhooks[0].FailurePolicy)
}
