package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/gosuda/x402-facilitator/api/docs"
	"github.com/gosuda/x402-facilitator/api/middleware"
	"github.com/gosuda/x402-facilitator/protocol"
	"github.com/gosuda/x402-facilitator/scheme"
	x402 "github.com/gosuda/x402-facilitator/types"
)

const (
	headerXPayment         = "X-Payment"
	headerPaymentSignature = "Payment-Signature"
)

// envelopeRequest is the wire shape shared by /verify and /settle, read
// before any version-specific decoding so the adapter knows which codec to
// apply (§4.8: "selects codec v1 or v2 by inspecting the envelope's
// x402Version field").
type envelopeRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

type envelopeRequestV1 struct {
	X402Version         int                       `json:"x402Version"`
	PaymentPayload      protocol.PaymentPayloadV1 `json:"paymentPayload"`
	PaymentRequirements protocol.RequirementV1    `json:"paymentRequirements"`
}

// decodeEnvelope resolves the canonical (payload, requirements, x402Version)
// triple for one /verify or /settle call. The payment payload is taken from
// the Payment-Signature (v2) or X-Payment (v1) request header when present,
// matching how a resource server forwards a client's payment header
// unmodified; otherwise it is read from the JSON body alongside the
// requirements.
func decodeEnvelope(c echo.Context) (x402.PaymentPayload, x402.PaymentRequirements, error) {
	if raw := c.Request().Header.Get(headerPaymentSignature); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, fmt.Errorf("malformed %s header: %w", headerPaymentSignature, err)
		}
		var sig protocol.PaymentSignatureV2
		if err := json.Unmarshal(decoded, &sig); err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, fmt.Errorf("malformed %s header: %w", headerPaymentSignature, err)
		}
		reqs := protocol.DecodeRequirementsV2(sig.Accepted, sig.Resource)
		return protocol.DecodePayloadV2(sig), reqs, nil
	}

	if raw := c.Request().Header.Get(headerXPayment); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, fmt.Errorf("malformed %s header: %w", headerXPayment, err)
		}
		var payloadV1 protocol.PaymentPayloadV1
		if err := json.Unmarshal(decoded, &payloadV1); err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, fmt.Errorf("malformed %s header: %w", headerXPayment, err)
		}
		payload, err := protocol.DecodePayloadV1(payloadV1)
		if err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
		}

		var body envelopeRequestV1
		if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
		}
		reqs, err := protocol.DecodeRequirementsV1(body.PaymentRequirements)
		if err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
		}
		return payload, reqs, nil
	}

	var body json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
	}
	var versionProbe struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(body, &versionProbe); err != nil {
		return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
	}

	if versionProbe.X402Version == 1 {
		var v1 envelopeRequestV1
		if err := json.Unmarshal(body, &v1); err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
		}
		payload, err := protocol.DecodePayloadV1(v1.PaymentPayload)
		if err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
		}
		reqs, err := protocol.DecodeRequirementsV1(v1.PaymentRequirements)
		if err != nil {
			return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
		}
		return payload, reqs, nil
	}

	var v2 envelopeRequest
	if err := json.Unmarshal(body, &v2); err != nil {
		return x402.PaymentPayload{}, x402.PaymentRequirements{}, err
	}
	return v2.PaymentPayload, v2.PaymentRequirements, nil
}

// Facilitator is the façade surface the HTTP adapter depends on.
type Facilitator interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.VerifyOutcome, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirements) (scheme.SettleOutcome, error)
	Supported() []x402.SupportedKind
	Signers() map[string][]string
}

// @title        x402 Facilitator API
// @version      1.0
// @description  API server for x402 payment verification and settlement
type server struct {
	*echo.Echo
	facilitator Facilitator
}

var _ http.Handler = (*server)(nil)

func NewServer(facilitator Facilitator) *server {
	s := &server{
		Echo:        echo.New(),
		facilitator: facilitator,
	}

	s.Use(middleware.RequestID())
	s.Use(middleware.Logger())
	s.Use(middleware.ErrorWrapper())
	s.Use(echomiddleware.RecoverWithConfig(echomiddleware.RecoverConfig{
		DisableErrorHandler: true,
	}))
	s.Use(echomiddleware.CORS())
	s.Use(echomiddleware.BodyLimit("1M"))

	s.GET("/", s.Help)
	s.GET("/verify", s.Help)
	s.GET("/settle", s.Help)
	s.POST("/verify", s.Verify)
	s.POST("/settle", s.Settle)
	s.GET("/supported", s.Supported)
	s.GET("/health", s.Health)
	s.GET("/swagger/*", echoSwagger.WrapHandler)

	return s
}

// Help serves a static request-schema document with no side effects.
// @Summary      Help
// @Description  Describe the request schema for /verify and /settle
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       / [get]
func (s *server) Help(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"verify":    "POST {x402Version, paymentPayload, paymentRequirements}",
		"settle":    "POST {x402Version, paymentPayload, paymentRequirements}",
		"supported": "GET -> {kinds, signers}",
	})
}

// Settle handles payment settlement requests.
// @Summary      Settle payment
// @Description  Settle a payment using the facilitator
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        body  body      x402.PaymentSettleRequest  true  "Settlement request"
// @Success      200   {object}  x402.PaymentSettleResponse
// @Failure      400   {object}  echo.HTTPError
// @Failure      500   {object}  echo.HTTPError
// @Router       /settle [post]
func (s *server) Settle(c echo.Context) error {
	ctx := c.Request().Context()

	payload, reqs, err := decodeEnvelope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "received malformed settlement request")
	}

	outcome, err := s.facilitator.Settle(ctx, payload, reqs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	network := payload.Network
	if payload.X402Version == 1 {
		if chain, chainErr := x402.ParseChainId(network); chainErr == nil {
			if name, nameErr := protocol.ChainIDToNetworkName(chain); nameErr == nil {
				network = name
			}
		}
	}

	return c.JSON(http.StatusOK, x402.PaymentSettleResponse{
		Success:     outcome.Success,
		Payer:       outcome.Payer,
		Transaction: outcome.Transaction,
		Network:     network,
		ErrorReason: outcome.Reason,
	})
}

// Verify handles payment verification requests.
// @Summary      Verify payment
// @Description  Verify a payment using the facilitator
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        body  body      x402.PaymentVerifyRequest  true  "Payment verification request"
// @Success      200   {object}  x402.PaymentVerifyResponse
// @Failure      400   {object}  echo.HTTPError
// @Failure      500   {object}  echo.HTTPError
// @Router       /verify [post]
func (s *server) Verify(c echo.Context) error {
	ctx := c.Request().Context()

	payload, reqs, err := decodeEnvelope(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "received malformed payment requirements")
	}

	outcome, err := s.facilitator.Verify(ctx, payload, reqs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, x402.PaymentVerifyResponse{
		IsValid:       outcome.Valid,
		InvalidReason: outcome.Reason,
		Payer:         outcome.Payer,
	})
}

// Supported returns the registry's live (version, scheme, network) kinds.
// @Summary      List supported kinds
// @Description  Get supported payment kinds
// @Tags         payments
// @Produce      json
// @Success      200  {object}  x402.SupportedResponse
// @Router       /supported [get]
func (s *server) Supported(c echo.Context) error {
	return c.JSON(http.StatusOK, x402.SupportedResponse{Kinds: s.facilitator.Supported(), Signers: s.facilitator.Signers()})
}

// Health reports 200 iff Supported succeeds, echoing its body.
// @Summary      Health check
// @Produce      json
// @Success      200  {object}  x402.SupportedResponse
// @Router       /health [get]
func (s *server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, x402.SupportedResponse{Kinds: s.facilitator.Supported(), Signers: s.facilitator.Signers()})
}
