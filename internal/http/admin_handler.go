package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gate-service/internal/domain/admin"
	"gate-service/internal/repository"
	"gate-service/internal/service"
)

type AdminHandler struct {
	admin *service.AdminService
	auth  *service.AuthService
	base  *Handler
}

func NewAdminHandler(adminService *service.AdminService, authService *service.AuthService, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		admin: adminService,
		auth:  authService,
		base:  &Handler{log: log.With().Str("component", "admin_http").Logger()},
	}
}

// Register mounts the dashboard CRUD routes. protected guards everything
// except login, which is throttled by loginLimit instead.
func (h *AdminHandler) Register(r *gin.Engine, protected, loginLimit gin.HandlerFunc) {
	r.POST("/api/users/login", loginLimit, h.login)

	api := r.Group("/api", protected)
	{
		api.GET("/identification-types", h.listLookups(repository.TableIdentificationTypes))
		api.POST("/identification-types", h.upsertLookup(repository.TableIdentificationTypes))
		api.DELETE("/identification-types/:id", h.deleteLookup(repository.TableIdentificationTypes))

		api.GET("/role-types", h.listLookups(repository.TableRoleTypes))
		api.POST("/role-types", h.upsertLookup(repository.TableRoleTypes))
		api.DELETE("/role-types/:id", h.deleteLookup(repository.TableRoleTypes))

		api.GET("/drivers", h.listDrivers)
		api.POST("/drivers", h.upsertDriver)
		api.DELETE("/drivers/:id", h.deleteDriver)

		api.GET("/vehicles", h.listVehicles)
		api.POST("/vehicles", h.upsertVehicle)
		api.DELETE("/vehicles/:id", h.deleteVehicle)
		api.GET("/vehicle-brands", h.listBrands)

		api.GET("/users", h.listUsers)
		api.POST("/users", h.upsertUser)
		api.POST("/users/:id/update-password", h.updatePassword)
		api.DELETE("/users/:id", h.deleteUser)

		api.GET("/api-keys", h.listAPIKeys)
		api.POST("/api-keys", h.upsertAPIKey)
		api.DELETE("/api-keys/:identifier", h.deactivateAPIKey)
	}
}

func (h *AdminHandler) listLookups(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.admin.ListLookups(c.Request.Context(), table)
		if err != nil {
			h.base.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, successResponse(items))
	}
}

func (h *AdminHandler) upsertLookup(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in admin.LookupInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		item, err := h.admin.UpsertLookup(c.Request.Context(), table, in)
		if err != nil {
			h.base.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, successResponse(item))
	}
}

func (h *AdminHandler) deleteLookup(table string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if err := h.admin.DeleteLookup(c.Request.Context(), table, id); err != nil {
			h.base.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (h *AdminHandler) listDrivers(c *gin.Context) {
	drivers, err := h.admin.ListDrivers(c.Request.Context())
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(drivers))
}

func (h *AdminHandler) upsertDriver(c *gin.Context) {
	var in admin.DriverInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	driver, err := h.admin.UpsertDriver(c.Request.Context(), in)
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(driver))
}

func (h *AdminHandler) deleteDriver(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteDriver(c.Request.Context(), id); err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AdminHandler) listVehicles(c *gin.Context) {
	limit, offset := pageParams(c, 50)
	filter := admin.VehicleFilter{Limit: limit, Offset: offset}

	if d := c.Query("driver"); d != "" {
		driverID, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid driver filter"))
			return
		}
		filter.DriverID = &driverID
	}

	vehicles, total, err := h.admin.ListVehicles(c.Request.Context(), filter)
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    vehicles,
		"total":   total,
	})
}

func (h *AdminHandler) upsertVehicle(c *gin.Context) {
	var in admin.VehicleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	vehicle, err := h.admin.UpsertVehicle(c.Request.Context(), in)
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(vehicle))
}

func (h *AdminHandler) deleteVehicle(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteVehicle(c.Request.Context(), id); err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AdminHandler) listBrands(c *gin.Context) {
	brands, err := h.admin.ListBrands(c.Request.Context())
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(brands))
}

func (h *AdminHandler) listUsers(c *gin.Context) {
	users, err := h.admin.ListUsers(c.Request.Context())
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(users))
}

func (h *AdminHandler) upsertUser(c *gin.Context) {
	var in admin.UserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	user, err := h.admin.UpsertUser(c.Request.Context(), in)
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(user))
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *AdminHandler) updatePassword(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := h.admin.UpdatePassword(c.Request.Context(), id, req.Password); err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AdminHandler) deleteUser(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteUser(c.Request.Context(), id); err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AdminHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	result, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(result))
}

func (h *AdminHandler) listAPIKeys(c *gin.Context) {
	keys, err := h.admin.ListAPIKeys(c.Request.Context())
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(keys))
}

func (h *AdminHandler) upsertAPIKey(c *gin.Context) {
	var in admin.APIKeyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	key, err := h.admin.UpsertAPIKey(c.Request.Context(), in)
	if err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(key))
}

func (h *AdminHandler) deactivateAPIKey(c *gin.Context) {
	if err := h.admin.DeactivateAPIKey(c.Request.Context(), c.Param("identifier")); err != nil {
		h.base.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid id"))
		return 0, false
	}
	return id, true
}
