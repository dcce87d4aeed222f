package server

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-oasis/env"
	"github.com/SplitFi/go-oasis/service/content"
	"github.com/SplitFi/go-oasis/service/ledger"
	"github.com/SplitFi/go-oasis/service/logger"
	"github.com/SplitFi/go-oasis/service/metadata"
	"github.com/SplitFi/go-oasis/service/persist"
	"github.com/SplitFi/go-oasis/service/resolver"
	"github.com/SplitFi/go-oasis/util"
	"github.com/SplitFi/go-oasis/validate"
)

var errMethodNotAllowed = errors.New("method not allowed")

func handlersInit(router *gin.Engine, c *Clients) *gin.Engine {
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(ctx *gin.Context) {
		util.ErrResponse(ctx, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	router.GET("/alive", util.HealthCheckHandler())
	router.Any("/upload", upload(c.Assembler, env.GetInt64("UPLOAD_MAX_BYTES")))

	listingsGroup := router.Group("/listings")
	listingsGroup.GET("", getListings(c.Ledger, c.Resolver))
	listingsGroup.GET("/:id", getListing(c.Ledger, c.Resolver))
	listingsGroup.POST("", createListing(c.Ledger, c.Registry))
	listingsGroup.POST("/:id/cancel", cancelListing(c.Ledger))
	listingsGroup.POST("/:id/purchase", purchaseListing(c.Ledger))

	router.GET("/balances/:address", getBalance(c))

	tokensGroup := router.Group("/tokens")
	tokensGroup.POST("/mint", mintToken(c))
	tokensGroup.POST("/approve", approveToken(c))
	tokensGroup.GET("/:registry/:token_id", getToken(c))

	return router
}

type uploadResponse struct {
	URI     string `json:"uri"`
	PinName string `json:"pin_name"`
}

// upload pins the posted file and a metadata document referencing it
func upload(assembler *metadata.Assembler, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.AbortWithStatusJSON(http.StatusMethodNotAllowed, util.ErrorResponse{Error: "Only POST allowed"})
			return
		}

		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("file", "required"))
				return
			}
			util.ErrResponse(c, http.StatusInternalServerError, fmt.Errorf("failed to parse upload: %w", err))
			return
		}
		defer file.Close()

		image, err := io.ReadAll(file)
		if err != nil {
			util.ErrResponse(c, http.StatusInternalServerError, fmt.Errorf("failed to read upload: %w", err))
			return
		}

		pinName := "metadata-" + header.Filename
		ctx := logger.NewContextWithFields(c.Request.Context(), logrus.Fields{"pinName": pinName, "size": len(image)})

		metadataCID, err := assembler.Assemble(ctx, c.PostForm("name"), c.PostForm("description"), image)
		if err != nil {
			var invalid validate.ErrInvalidInput
			if errors.As(err, &invalid) {
				util.ErrResponse(c, http.StatusBadRequest, err)
				return
			}
			util.ErrResponse(c, http.StatusInternalServerError, err)
			return
		}

		c.JSON(http.StatusOK, uploadResponse{URI: content.FormatURI(metadataCID), PinName: pinName})
	}
}

type getListingsResponse struct {
	Listings []persist.Listing `json:"listings"`
}

type getEnrichedListingsResponse struct {
	Listings []resolver.EnrichedListing `json:"listings"`
}

func getListings(l *ledger.Ledger, r *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			listings []persist.Listing
			err      error
		)

		from, to := c.Query("from"), c.Query("to")
		if from != "" || to != "" {
			fromID, ferr := persist.ParseListingID(from)
			toID, terr := persist.ParseListingID(to)
			if ferr != nil || terr != nil {
				util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("range", "from and to must both be listing IDs"))
				return
			}
			listings, err = l.List(c, fromID, toID)
		} else {
			listings, err = l.ListActive(c)
		}
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		if enrich, _ := strconv.ParseBool(c.Query("enrich")); enrich {
			c.JSON(http.StatusOK, getEnrichedListingsResponse{Listings: r.EnrichListings(c.Request.Context(), listings)})
			return
		}

		c.JSON(http.StatusOK, getListingsResponse{Listings: listings})
	}
}

func getListing(l *ledger.Ledger, r *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := persist.ParseListingID(c.Param("id"))
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("id", err.Error()))
			return
		}

		listing, err := l.Get(c, id)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		if enrich, _ := strconv.ParseBool(c.Query("enrich")); enrich {
			c.JSON(http.StatusOK, r.Enrich(c.Request.Context(), listing))
			return
		}

		c.JSON(http.StatusOK, listing)
	}
}

type createListingInput struct {
	Seller   persist.Address `json:"seller" binding:"required"`
	Registry persist.Address `json:"registry"`
	TokenID  string          `json:"token_id" binding:"required"`
	Price    string          `json:"price" binding:"required"`
}

type createListingOutput struct {
	ID persist.ListingID `json:"id"`
}

func createListing(l *ledger.Ledger, defaultRegistry persist.Address) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input createListingInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		tokenID, err := persist.ParseTokenID(input.TokenID)
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("token_id", err.Error()))
			return
		}

		price, ok := new(big.Int).SetString(input.Price, 10)
		if !ok {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("price", "must be a base 10 integer"))
			return
		}

		registryAddress := input.Registry
		if registryAddress == "" {
			registryAddress = defaultRegistry
		}

		id, err := l.CreateListing(c, input.Seller, persist.NewAssetRef(registryAddress, tokenID), price)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		c.JSON(http.StatusOK, createListingOutput{ID: id})
	}
}

type cancelListingInput struct {
	Caller persist.Address `json:"caller" binding:"required"`
}

func cancelListing(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := persist.ParseListingID(c.Param("id"))
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("id", err.Error()))
			return
		}

		var input cancelListingInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if err := l.Cancel(c, input.Caller, id); err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

type purchaseListingInput struct {
	Buyer persist.Address `json:"buyer" binding:"required"`
	Paid  string          `json:"paid" binding:"required"`
}

func purchaseListing(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := persist.ParseListingID(c.Param("id"))
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("id", err.Error()))
			return
		}

		var input purchaseListingInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		paid, ok := new(big.Int).SetString(input.Paid, 10)
		if !ok {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("paid", "must be a base 10 integer"))
			return
		}

		settlement, err := l.Purchase(c, input.Buyer, id, paid)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		c.JSON(http.StatusOK, settlement)
	}
}

type balanceOutput struct {
	Address persist.Address `json:"address"`
	Balance *big.Int        `json:"balance"`
}

func getBalance(clients *Clients) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := persist.NewAddress(c.Param("address"))
		balance, err := clients.Escrow.Balance(c, addr)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}
		c.JSON(http.StatusOK, balanceOutput{Address: addr, Balance: balance})
	}
}

type mintTokenInput struct {
	To  persist.Address `json:"to" binding:"required"`
	URI string          `json:"uri" binding:"required"`
}

type tokenOutput struct {
	Registry persist.Address `json:"registry"`
	TokenID  persist.TokenID `json:"token_id"`
	Owner    persist.Address `json:"owner,omitempty"`
	TokenURI string          `json:"token_uri,omitempty"`
}

func mintToken(clients *Clients) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input mintTokenInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		reg, err := clients.Registries.For(clients.Registry)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		tokenID, err := reg.Mint(c, input.To, input.URI)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		c.JSON(http.StatusOK, tokenOutput{Registry: clients.Registry, TokenID: tokenID, Owner: input.To.Normalize(), TokenURI: input.URI})
	}
}

type approveTokenInput struct {
	Owner    persist.Address `json:"owner" binding:"required"`
	Spender  persist.Address `json:"spender"`
	Registry persist.Address `json:"registry"`
	TokenID  string          `json:"token_id" binding:"required"`
}

func approveToken(clients *Clients) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input approveTokenInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		tokenID, err := persist.ParseTokenID(input.TokenID)
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("token_id", err.Error()))
			return
		}

		registryAddress := input.Registry
		if registryAddress == "" {
			registryAddress = clients.Registry
		}
		reg, err := clients.Registries.For(registryAddress)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		spender := input.Spender
		if spender == "" {
			spender = clients.Ledger.Operator()
		}

		if err := reg.Approve(c, input.Owner, spender, tokenID); err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func getToken(clients *Clients) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID, err := persist.ParseTokenID(c.Param("token_id"))
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, validate.NewErrInvalidInput("token_id", err.Error()))
			return
		}

		registryAddress := persist.NewAddress(c.Param("registry"))
		reg, err := clients.Registries.For(registryAddress)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		owner, err := reg.OwnerOf(c, tokenID)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		uri, err := reg.TokenURI(c, tokenID)
		if err != nil {
			util.ErrResponse(c, statusFor(err), err)
			return
		}

		c.JSON(http.StatusOK, tokenOutput{Registry: registryAddress, TokenID: tokenID, Owner: owner, TokenURI: uri})
	}
}

// statusFor maps ledger and pipeline errors to HTTP statuses
func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindInvalidInput, ledger.KindInvalidPrice:
		return http.StatusBadRequest
	case ledger.KindUnauthorized:
		return http.StatusForbidden
	case ledger.KindAlreadyListed, ledger.KindInvalidState:
		return http.StatusConflict
	case ledger.KindInsufficientPayment:
		return http.StatusPaymentRequired
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindTransferFailed:
		return http.StatusBadGateway
	case ledger.KindStoreUnavailable, ledger.KindRegistryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
