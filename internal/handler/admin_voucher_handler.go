package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"tably/internal/domain"
	"tably/internal/models"
	"tably/internal/repository"
	"tably/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminVoucherHandler is the owner-side catalog management surface.
type AdminVoucherHandler struct {
	voucherRepo *repository.VoucherRepository
	uploads     cloudinary.Client
}

func NewAdminVoucherHandler(voucherRepo *repository.VoucherRepository, uploads cloudinary.Client) *AdminVoucherHandler {
	return &AdminVoucherHandler{voucherRepo: voucherRepo, uploads: uploads}
}

type VoucherUpsertRequest struct {
	Name           string     `json:"name" binding:"required"`
	Description    string     `json:"description"`
	RequiredPoints int        `json:"required_points" binding:"required,gt=0"`
	ExpiryDays     int        `json:"expiry_days" binding:"gte=0"`
	Stock          int        `json:"stock" binding:"gte=0"`
	Terms          []string   `json:"terms"`
	AvailableFrom  *time.Time `json:"available_from"`
	AvailableUntil *time.Time `json:"available_until"`
	Active         *bool      `json:"active"`
}

// adminVoucherView is the management view: the full model, including the
// stock and campaign-window fields the customer DTO hides.
type adminVoucherView struct {
	models.Voucher
	Terms []string `json:"terms"`
}

func toAdminVoucherView(v *models.Voucher) adminVoucherView {
	return adminVoucherView{Voucher: *v, Terms: v.TermsList()}
}

func (h *AdminVoucherHandler) List(c *gin.Context) {
	list, err := h.voucherRepo.ListAll()
	if err != nil {
		fail(c, http.StatusInternalServerError, "VOUCHER_LIST_FAILED", "failed to load vouchers")
		return
	}
	out := make([]adminVoucherView, 0, len(list))
	for i := range list {
		out = append(out, toAdminVoucherView(&list[i]))
	}
	ok(c, http.StatusOK, out)
}

func (h *AdminVoucherHandler) Create(c *gin.Context) {
	var req VoucherUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	v := &models.Voucher{
		Name:           req.Name,
		Description:    req.Description,
		RequiredPoints: req.RequiredPoints,
		ExpiryDays:     req.ExpiryDays,
		Stock:          req.Stock,
		AvailableFrom:  req.AvailableFrom,
		AvailableUntil: req.AvailableUntil,
		Active:         true,
	}
	if v.ExpiryDays == 0 {
		v.ExpiryDays = 30
	}
	if req.Active != nil {
		v.Active = *req.Active
	}
	v.SetTerms(req.Terms)
	if err := h.voucherRepo.Create(v); err != nil {
		log.Printf("[admin] voucher create failed: %v", err)
		fail(c, http.StatusInternalServerError, "VOUCHER_CREATE_FAILED", "failed to create voucher")
		return
	}
	ok(c, http.StatusCreated, toAdminVoucherView(v))
}

func (h *AdminVoucherHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_VOUCHER_ID", "invalid voucher id")
		return
	}
	var req VoucherUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	v, err := h.voucherRepo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, domain.ErrVoucherNotFound) {
			fail(c, http.StatusNotFound, "VOUCHER_NOT_FOUND", "voucher not found")
			return
		}
		fail(c, http.StatusInternalServerError, "VOUCHER_GET_FAILED", "failed to load voucher")
		return
	}
	v.Name = req.Name
	v.Description = req.Description
	v.RequiredPoints = req.RequiredPoints
	if req.ExpiryDays > 0 {
		v.ExpiryDays = req.ExpiryDays
	}
	v.Stock = req.Stock
	v.AvailableFrom = req.AvailableFrom
	v.AvailableUntil = req.AvailableUntil
	if req.Active != nil {
		v.Active = *req.Active
	}
	v.SetTerms(req.Terms)
	if err := h.voucherRepo.Update(v); err != nil {
		fail(c, http.StatusInternalServerError, "VOUCHER_UPDATE_FAILED", "failed to update voucher")
		return
	}
	ok(c, http.StatusOK, toAdminVoucherView(v))
}

func (h *AdminVoucherHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_VOUCHER_ID", "invalid voucher id")
		return
	}
	if err := h.voucherRepo.Delete(uint(id)); err != nil {
		fail(c, http.StatusInternalServerError, "VOUCHER_DELETE_FAILED", "failed to delete voucher")
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

// UploadImage attaches catalog artwork to a voucher. Multipart field "image".
func (h *AdminVoucherHandler) UploadImage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_VOUCHER_ID", "invalid voucher id")
		return
	}
	if h.uploads == nil {
		fail(c, http.StatusServiceUnavailable, "UPLOADS_DISABLED", "image uploads are not configured")
		return
	}
	v, err := h.voucherRepo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, domain.ErrVoucherNotFound) {
			fail(c, http.StatusNotFound, "VOUCHER_NOT_FOUND", "voucher not found")
			return
		}
		fail(c, http.StatusInternalServerError, "VOUCHER_GET_FAILED", "failed to load voucher")
		return
	}
	fileHeader, err := c.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, "IMAGE_REQUIRED", "image file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "IMAGE_UNREADABLE", "could not read uploaded file")
		return
	}
	defer file.Close()

	publicID := fmt.Sprintf("voucher_%d_%s", v.ID, uuid.NewString())
	url, err := h.uploads.UploadImage(c.Request.Context(), file, "vouchers", publicID)
	if err != nil {
		log.Printf("[admin] voucher %d image upload failed: %v", v.ID, err)
		fail(c, http.StatusInternalServerError, "IMAGE_UPLOAD_FAILED", "image upload failed")
		return
	}
	v.ImageURL = url
	if err := h.voucherRepo.Update(v); err != nil {
		fail(c, http.StatusInternalServerError, "VOUCHER_UPDATE_FAILED", "failed to save image url")
		return
	}
	ok(c, http.StatusOK, toAdminVoucherView(v))
}
