package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"

	"github.com/shrikeio/shrike/internal/admission"
)

var (
	scheme       = runtime.NewScheme()
	codecs       = serializer.NewCodecFactory(scheme)
	deserializer = codecs.UniversalDeserializer()
)

func init() {
	_ = admissionv1.AddToScheme(scheme)
}

// AdmissionHandler translates AdmissionReview HTTP traffic into gateway
// reviews and back.
type AdmissionHandler struct {
	gateway *admission.Gateway
	logger  *zap.Logger
}

// NewAdmissionHandler creates a new admission handler.
func NewAdmissionHandler(gateway *admission.Gateway, logger *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{
		gateway: gateway,
		logger:  logger.Named("handler"),
	}
}

// Handle serves POST /validate.
func (h *AdmissionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	// Admission reviews are small; bound the body to keep a misbehaving
	// caller from holding memory.
	const maxBodySize = 1 << 20
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("Failed to read request body", zap.Error(err))
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	review := &admissionv1.AdmissionReview{}
	if _, _, err := deserializer.Decode(body, nil, review); err != nil {
		h.logger.Error("Failed to decode admission review", zap.Error(err))
		http.Error(w, "Failed to decode AdmissionReview", http.StatusBadRequest)
		return
	}

	review.Response = h.process(r, review.Request)
	h.send(w, review)
}

// process runs one admission request through the gateway.
func (h *AdmissionHandler) process(r *http.Request, req *admissionv1.AdmissionRequest) *admissionv1.AdmissionResponse {
	if req == nil {
		return &admissionv1.AdmissionResponse{Allowed: true}
	}

	uid := string(req.UID)
	if uid == "" {
		uid = uuid.NewString()
	}

	obj, err := decodeObject(req.Object.Raw)
	if err != nil {
		h.logger.Error("Failed to decode request object",
			zap.String("uid", uid), zap.Error(err))
		return &admissionv1.AdmissionResponse{
			UID:     req.UID,
			Allowed: false,
			Result:  &metav1.Status{Message: "failed to decode request object: " + err.Error()},
		}
	}

	decision := h.gateway.Review(r.Context(), admission.Request{
		UID:       uid,
		Operation: string(req.Operation),
		Object:    obj,
	})

	response := &admissionv1.AdmissionResponse{
		UID:      req.UID,
		Allowed:  decision.Allowed,
		Warnings: decision.Warnings,
	}
	if !decision.Allowed {
		response.Result = &metav1.Status{
			Code:    http.StatusForbidden,
			Message: strings.Join(decision.Messages, "; "),
		}
	}
	return response
}

// decodeObject parses the raw admission object. The request's kind metadata
// is authoritative even when the body omits TypeMeta.
func decodeObject(raw []byte) (*unstructured.Unstructured, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var content map[string]interface{}
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, err
	}
	return &unstructured.Unstructured{Object: content}, nil
}

func (h *AdmissionHandler) send(w http.ResponseWriter, review *admissionv1.AdmissionReview) {
	review.TypeMeta = metav1.TypeMeta{
		APIVersion: "admission.k8s.io/v1",
		Kind:       "AdmissionReview",
	}

	responseBytes, err := json.Marshal(review)
	if err != nil {
		h.logger.Error("Failed to marshal response", zap.Error(err))
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(responseBytes)
}
