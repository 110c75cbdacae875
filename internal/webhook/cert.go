// Package webhook manages the TLS identity of the admission endpoint:
// self-signed CA and serving certificate, persisted in a Secret, with the
// CA bundle synced into the ValidatingWebhookConfiguration.
package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	// certValidity is how long generated certificates are valid.
	certValidity = 365 * 24 * time.Hour

	// rotationThreshold is how long before expiry certificates rotate.
	rotationThreshold = 30 * 24 * time.Hour

	// DefaultSecretName stores the webhook's TLS material.
	DefaultSecretName = "shrike-webhook-tls"

	// DefaultWebhookConfigName is the ValidatingWebhookConfiguration name.
	DefaultWebhookConfigName = "shrike-admission"
)

// CertConfig locates the Secret and webhook configuration the manager owns.
type CertConfig struct {
	Namespace         string
	ServiceName       string
	SecretName        string
	WebhookConfigName string
}

// DefaultCertConfig returns the conventional names for a namespace.
func DefaultCertConfig(namespace string) CertConfig {
	return CertConfig{
		Namespace:         namespace,
		ServiceName:       "shrike-webhook",
		SecretName:        DefaultSecretName,
		WebhookConfigName: DefaultWebhookConfigName,
	}
}

// CertManager generates and rotates the webhook's self-signed certificates.
type CertManager struct {
	client kubernetes.Interface
	config CertConfig
	logger *zap.Logger

	caCert     []byte
	serverCert []byte
	serverKey  []byte
}

// NewCertManager creates a certificate manager.
func NewCertManager(client kubernetes.Interface, config CertConfig, logger *zap.Logger) *CertManager {
	return &CertManager{
		client: client,
		config: config,
		logger: logger.Named("certs"),
	}
}

// Ensure makes certain a valid certificate exists, generating and persisting
// a fresh CA + serving pair when the Secret is absent or expiring.
func (m *CertManager) Ensure(ctx context.Context) error {
	secret, getErr := m.client.CoreV1().Secrets(m.config.Namespace).
		Get(ctx, m.config.SecretName, metav1.GetOptions{})

	exists := getErr == nil
	if exists && m.secretValid(secret) {
		m.caCert = secret.Data["ca.crt"]
		m.serverCert = secret.Data["tls.crt"]
		m.serverKey = secret.Data["tls.key"]
		m.logger.Debug("Using existing certificates")
		return nil
	}
	if getErr != nil && !apierrors.IsNotFound(getErr) {
		return fmt.Errorf("failed to get secret: %w", getErr)
	}

	m.logger.Info("Generating self-signed certificates")
	caCert, caKey, err := generateCA()
	if err != nil {
		return fmt.Errorf("failed to generate CA: %w", err)
	}
	serverCert, serverKey, err := generateServingCert(caCert, caKey, m.config.ServiceName, m.config.Namespace)
	if err != nil {
		return fmt.Errorf("failed to generate serving certificate: %w", err)
	}

	newSecret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.config.SecretName,
			Namespace: m.config.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/name":      "shrike",
				"app.kubernetes.io/component": "webhook",
			},
		},
		Type: corev1.SecretTypeTLS,
		Data: map[string][]byte{
			"ca.crt":  caCert,
			"tls.crt": serverCert,
			"tls.key": serverKey,
		},
	}

	if exists {
		if _, err := m.client.CoreV1().Secrets(m.config.Namespace).
			Update(ctx, newSecret, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("failed to update secret: %w", err)
		}
	} else {
		if _, err := m.client.CoreV1().Secrets(m.config.Namespace).
			Create(ctx, newSecret, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create secret: %w", err)
		}
	}
	m.logger.Info("Stored TLS secret", zap.String("name", m.config.SecretName))

	m.caCert = caCert
	m.serverCert = serverCert
	m.serverKey = serverKey
	return nil
}

// ServingPair returns the current serving certificate and key PEM.
func (m *CertManager) ServingPair() (certPEM, keyPEM []byte) {
	return m.serverCert, m.serverKey
}

// CABundle returns the CA certificate PEM for the webhook configuration.
func (m *CertManager) CABundle() []byte {
	return m.caCert
}

// SyncCABundle patches the ValidatingWebhookConfiguration's caBundle.
func (m *CertManager) SyncCABundle(ctx context.Context) error {
	if len(m.caCert) == 0 {
		return fmt.Errorf("no CA certificate available")
	}

	vwc, err := m.client.AdmissionregistrationV1().
		ValidatingWebhookConfigurations().
		Get(ctx, m.config.WebhookConfigName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get webhook configuration %s: %w", m.config.WebhookConfigName, err)
	}

	updated := false
	for i := range vwc.Webhooks {
		if !bytes.Equal(vwc.Webhooks[i].ClientConfig.CABundle, m.caCert) {
			vwc.Webhooks[i].ClientConfig.CABundle = m.caCert
			updated = true
		}
	}
	if !updated {
		return nil
	}

	if _, err := m.client.AdmissionregistrationV1().
		ValidatingWebhookConfigurations().
		Update(ctx, vwc, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update webhook configuration: %w", err)
	}
	m.logger.Info("Synced webhook CA bundle", zap.String("name", m.config.WebhookConfigName))
	return nil
}

// StartRotation checks certificate freshness on the given interval,
// regenerating and re-syncing when the serving certificate nears expiry.
func (m *CertManager) StartRotation(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Ensure(ctx); err != nil {
					m.logger.Error("Certificate rotation failed", zap.Error(err))
					continue
				}
				if err := m.SyncCABundle(ctx); err != nil {
					m.logger.Error("CA bundle sync failed", zap.Error(err))
				}
			}
		}
	}()
}

// secretValid reports whether the stored serving certificate parses and is
// not within the rotation threshold of expiry.
func (m *CertManager) secretValid(secret *corev1.Secret) bool {
	certPEM := secret.Data["tls.crt"]
	if len(certPEM) == 0 || len(secret.Data["tls.key"]) == 0 {
		return false
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return false
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false
	}
	if cert.NotAfter.Before(time.Now().Add(rotationThreshold)) {
		m.logger.Info("Certificate expiring soon", zap.Time("expires", cert.NotAfter))
		return false
	}
	return true
}

func generateCA() (certPEM, keyPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Shrike"},
			CommonName:   "Shrike Admission CA",
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}

func generateServingCert(caCertPEM, caKeyPEM []byte, serviceName, namespace string) (certPEM, keyPEM []byte, err error) {
	caBlock, _ := pem.Decode(caCertPEM)
	if caBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode CA certificate PEM")
	}
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	keyBlock, _ := pem.Decode(caKeyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode CA key PEM")
	}
	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA key: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serving key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Shrike"},
			CommonName:   serviceName,
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames: []string{
			serviceName,
			fmt.Sprintf("%s.%s", serviceName, namespace),
			fmt.Sprintf("%s.%s.svc", serviceName, namespace),
			fmt.Sprintf("%s.%s.svc.cluster.local", serviceName, namespace),
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create serving certificate: %w", err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, nil
}

// BuildWebhookConfiguration returns the ValidatingWebhookConfiguration the
// engine expects. failClosed selects the Fail failure policy; the admission
// gateway applies the same default internally.
func BuildWebhookConfiguration(cfg CertConfig, caBundle []byte, failClosed bool) *admissionregistrationv1.ValidatingWebhookConfiguration {
	failurePolicy := admissionregistrationv1.Ignore
	if failClosed {
		failurePolicy = admissionregistrationv1.Fail
	}
	sideEffects := admissionregistrationv1.SideEffectClassNone
	matchPolicy := admissionregistrationv1.Equivalent
	timeoutSeconds := int32(10)
	path := "/validate"
	port := int32(443)

	return &admissionregistrationv1.ValidatingWebhookConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name: cfg.WebhookConfigName,
			Labels: map[string]string{
				"app.kubernetes.io/name":      "shrike",
				"app.kubernetes.io/component": "webhook",
			},
		},
		Webhooks: []admissionregistrationv1.ValidatingWebhook{
			{
				Name: "validate.shrike.io",
				ClientConfig: admissionregistrationv1.WebhookClientConfig{
					Service: &admissionregistrationv1.ServiceReference{
						Namespace: cfg.Namespace,
						Name:      cfg.ServiceName,
						Path:      &path,
						Port:      &port,
					},
					CABundle: caBundle,
				},
				Rules: []admissionregistrationv1.RuleWithOperations{
					{
						Operations: []admissionregistrationv1.OperationType{
							admissionregistrationv1.Create,
							admissionregistrationv1.Update,
						},
						Rule: admissionregistrationv1.Rule{
							APIGroups:   []string{"*"},
							APIVersions: []string{"*"},
							Resources:   []string{"*"},
						},
					},
				},
				FailurePolicy:           &failurePolicy,
				SideEffects:             &sideEffects,
				AdmissionReviewVersions: []string{"v1"},
				MatchPolicy:             &matchPolicy,
				TimeoutSeconds:          &timeoutSeconds,
			},
		},
	}
}
