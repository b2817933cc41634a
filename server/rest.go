// Copyright 2025 RideAdvisor Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rideadvisor/rideadvisor/base/log"
	"github.com/rideadvisor/rideadvisor/config"
	"github.com/rideadvisor/rideadvisor/dataset"
	"github.com/rideadvisor/rideadvisor/logics"
	"github.com/rideadvisor/rideadvisor/storage/data"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	apiDocsPath  = "/apidocs.json"
	apiKeyHeader = "X-API-Key"
	requestIdKey = "X-Request-ID"
)

// RestServer implements a REST-ful API server.
type RestServer struct {
	Config         *config.Config
	DataClient     data.Database
	Recommender    *logics.HybridRecommender
	Loader         dataset.Loader
	TracerProvider trace.TracerProvider
	HttpServer     *http.Server
	WebService     *restful.WebService

	container *restful.Container
	cache     *ttlcache.Cache[string, CarAvatar]
	validate  *validator.Validate
}

// NewRestServer creates a server. Recommendations are cached for Server.CacheExpire, zero disables the cache.
func NewRestServer(cfg *config.Config, dataClient data.Database, recommender *logics.HybridRecommender, loader dataset.Loader) *RestServer {
	s := &RestServer{
		Config:      cfg,
		DataClient:  dataClient,
		Recommender: recommender,
		Loader:      loader,
		validate:    newValidator(),
	}
	if cfg.Server.CacheExpire > 0 {
		s.cache = ttlcache.New[string, CarAvatar](
			ttlcache.WithTTL[string, CarAvatar](cfg.Server.CacheExpire),
			ttlcache.WithDisableTouchOnHit[string, CarAvatar]())
	}
	return s
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// full names have at least two characters and only letters and spaces
	if err := validate.RegisterValidation("fullname", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if len([]rune(strings.TrimSpace(name))) < 2 {
			return false
		}
		for _, c := range name {
			if !unicode.IsLetter(c) && !unicode.IsSpace(c) {
				return false
			}
		}
		return true
	}); err != nil {
		log.Logger().Fatal("failed to register validation", zap.Error(err))
	}
	return validate
}

// StartHttpServer starts the REST-ful API server. It blocks until the server is shut down.
func (s *RestServer) StartHttpServer() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.HttpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	if s.cache != nil {
		go s.cache.Start()
	}
	log.Logger().Info("start http server", zap.String("url", "http://"+addr))
	if err := s.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *RestServer) Shutdown(ctx context.Context) error {
	if s.cache != nil {
		s.cache.Stop()
	}
	if s.HttpServer == nil {
		return nil
	}
	return errors.Trace(s.HttpServer.Shutdown(ctx))
}

// Handler returns the container serving the REST API, API docs and metrics.
func (s *RestServer) Handler() http.Handler {
	if s.container != nil {
		return s.container
	}
	s.CreateWebService()
	container := restful.NewContainer()
	container.Filter(RequestIdFilter)
	cors := restful.CrossOriginResourceSharing{
		AllowedHeaders: []string{"Content-Type", "Accept", apiKeyHeader},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedDomains: s.Config.Server.AllowedOrigins,
		CookiesAllowed: true,
		Container:      container,
	}
	container.Filter(cors.Filter)
	container.Filter(container.OPTIONSFilter)
	container.Add(s.WebService)
	// register API docs
	specConfig := restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     apiDocsPath,
	}
	container.Add(restfulspec.NewOpenAPIService(specConfig))
	// register prometheus
	container.Handle("/metrics", promhttp.Handler())
	s.container = container
	return container
}

// RequestIdFilter tags every response with a request id.
func RequestIdFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter(requestIdKey)
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set(requestIdKey, requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	if req.Request.URL.Path != "/health" {
		log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
			zap.Int("status_code", resp.StatusCode()),
			zap.Duration("duration", time.Since(start)))
	}
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := new(restful.WebService)
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/")
	ws.Filter(LogFilter)
	var tracingOptions []otelrestful.Option
	if s.TracerProvider != nil {
		tracingOptions = append(tracingOptions, otelrestful.WithTracerProvider(s.TracerProvider))
	}
	ws.Filter(otelrestful.OTelFilter("rideadvisor", tracingOptions...))

	ws.Route(ws.GET("/").To(s.welcome).
		Doc("Welcome message.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Returns(http.StatusOK, "OK", Message{}).
		Writes(Message{}))
	ws.Route(ws.GET("/health").To(s.health).
		Doc("Check the data store connection.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Returns(http.StatusOK, "OK", HealthStatus{}).
		Returns(http.StatusInternalServerError, "Database connection error", HealthStatus{}).
		Writes(HealthStatus{}))

	/* Recommendation */

	ws.Route(ws.GET("/recommend/car-avatar").To(s.getCarAvatar).
		Doc("Recommend a car avatar for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.QueryParameter("user_id", "identifier of the user").DataType("string").Required(true)).
		Returns(http.StatusOK, "OK", CarAvatar{}).
		Returns(http.StatusBadRequest, "Missing user id", nil).
		Returns(http.StatusNotFound, "User not found", nil).
		Writes(CarAvatar{}))

	/* Users */

	ws.Route(ws.POST("/users/avatar").To(s.updateAvatar).
		Doc("Update the avatar of a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"user"}).
		Reads(AvatarUpdate{}).
		Returns(http.StatusOK, "OK", Message{}).
		Returns(http.StatusBadRequest, "Invalid request", nil).
		Returns(http.StatusNotFound, "User not found", nil).
		Writes(Message{}))

	/* Administration */

	ws.Route(ws.GET("/admin/users").To(s.getUsers).
		Doc("Get users.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Param(ws.QueryParameter("n", "number of returned users").DataType("integer")).
		Param(ws.QueryParameter("cursor", "cursor for next page").DataType("string")).
		Returns(http.StatusOK, "OK", UserIterator{}).
		Writes(UserIterator{}))
	ws.Route(ws.POST("/admin/users").To(s.insertUser).
		Doc("Create a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Reads(UserCreate{}).
		Returns(http.StatusOK, "OK", data.User{}).
		Returns(http.StatusBadRequest, "Invalid user or email already registered", nil).
		Writes(data.User{}))
	ws.Route(ws.GET("/admin/users/{user-id}").To(s.getUser).
		Doc("Get a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", data.User{}).
		Returns(http.StatusNotFound, "User not found", nil).
		Writes(data.User{}))
	ws.Route(ws.PUT("/admin/users/{user-id}").To(s.modifyUser).
		Doc("Modify a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Reads(UserPatch{}).
		Returns(http.StatusOK, "OK", Message{}).
		Returns(http.StatusBadRequest, "No fields to update", nil).
		Returns(http.StatusNotFound, "User not found", nil).
		Writes(Message{}))
	ws.Route(ws.POST("/admin/users/{user-id}/block").To(s.blockUser(true)).
		Doc("Block a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", Message{}).
		Writes(Message{}))
	ws.Route(ws.POST("/admin/users/{user-id}/unblock").To(s.blockUser(false)).
		Doc("Unblock a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", Message{}).
		Writes(Message{}))
	ws.Route(ws.DELETE("/admin/users/{user-id}").To(s.deleteUser).
		Doc("Delete a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("string")).
		Returns(http.StatusOK, "OK", Message{}).
		Returns(http.StatusNotFound, "User not found", nil).
		Writes(Message{}))
	ws.Route(ws.GET("/admin/recommender").To(s.getRecommender).
		Doc("Get the state of the recommender.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Returns(http.StatusOK, "OK", RecommenderInfo{}).
		Writes(RecommenderInfo{}))
	ws.Route(ws.POST("/admin/recommender/reload").To(s.reloadRecommender).
		Doc("Reload recommendation tables.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"admin"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for admin API")).
		Returns(http.StatusOK, "OK", RecommenderInfo{}).
		Writes(RecommenderInfo{}))
	s.WebService = ws
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	value, err = strconv.Atoi(valueString)
	if err != nil && valueString == "" {
		value = fallback
		err = nil
	}
	return
}

type Message struct {
	Message string `json:"message"`
}

type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Message  string `json:"message"`
}

func (s *RestServer) welcome(_ *restful.Request, response *restful.Response) {
	Ok(response, Message{Message: "Welcome to RideAdvisor API"})
}

func (s *RestServer) health(request *restful.Request, response *restful.Response) {
	err := s.DataClient.Ping()
	if errors.Is(err, data.ErrNoDatabase) {
		Ok(response, HealthStatus{Status: "healthy", Database: "none", Message: "No data store configured"})
		return
	} else if err != nil {
		log.ResponseLogger(response).Error("failed to ping data store", zap.Error(err))
		if err = response.WriteHeaderAndJson(http.StatusInternalServerError, HealthStatus{
			Status:   "unhealthy",
			Database: "disconnected",
			Message:  fmt.Sprintf("Database connection error: %v", err),
		}, restful.MIME_JSON); err != nil {
			log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
		}
		return
	}
	Ok(response, HealthStatus{Status: "healthy", Database: "connected", Message: "Successfully connected to data store"})
}

// CarAvatar is the recommended car avatar of a user.
type CarAvatar struct {
	CarName   string  `json:"car_name"`
	AvatarURL string  `json:"avatar_url"`
	Score     float64 `json:"score"`
	Method    string  `json:"method"`
}

func (s *RestServer) getCarAvatar(request *restful.Request, response *restful.Response) {
	start := time.Now()
	userId := request.QueryParameter("user_id")
	if userId == "" {
		BadRequest(response, errors.New("user_id is required"))
		return
	}
	if s.cache != nil {
		if item := s.cache.Get(cacheKey(s.Recommender.Version(), userId)); item != nil {
			RecommendCacheHitsTotal.Inc()
			Ok(response, item.Value())
			return
		}
		RecommendCacheMissesTotal.Inc()
	}
	recommendation, err := s.Recommender.Recommend(userId)
	if errors.Is(err, logics.ErrUserNotFound) {
		PageNotFound(response, logics.ErrUserNotFound)
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	avatar := CarAvatar{
		CarName:   recommendation.ItemName,
		AvatarURL: recommendation.AvatarURL,
		Score:     recommendation.Score,
		Method:    recommendation.Method,
	}
	if s.cache != nil {
		s.cache.Set(cacheKey(recommendation.Version, userId), avatar, ttlcache.DefaultTTL)
	}
	GetRecommendSeconds.Observe(time.Since(start).Seconds())
	Ok(response, avatar)
}

// cacheKey binds a cached result to the snapshot it was scored on.
func cacheKey(version int64, userId string) string {
	return fmt.Sprintf("%d/%s", version, userId)
}

type AvatarUpdate struct {
	UserId    string `json:"user_id" validate:"required"`
	AvatarURL string `json:"avatar_url" validate:"required,url"`
}

func (s *RestServer) updateAvatar(request *restful.Request, response *restful.Response) {
	var update AvatarUpdate
	if err := request.ReadEntity(&update); err != nil {
		BadRequest(response, err)
		return
	}
	if err := s.validate.Struct(update); err != nil {
		BadRequest(response, err)
		return
	}
	ctx := request.Request.Context()
	if err := s.DataClient.ModifyUser(ctx, update.UserId, data.UserPatch{AvatarURL: &update.AvatarURL}); err != nil {
		writeError(response, err)
		return
	}
	Ok(response, Message{Message: "Avatar updated successfully"})
}

type UserIterator struct {
	Cursor string      `json:"cursor"`
	Users  []data.User `json:"users"`
}

func (s *RestServer) getUsers(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	cursor := request.QueryParameter("cursor")
	n, err := ParseInt(request, "n", s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	} else if n <= 0 {
		BadRequest(response, errors.Errorf("n must be positive: %d", n))
		return
	}
	cursor, users, err := s.DataClient.GetUsers(request.Request.Context(), cursor, n)
	if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, UserIterator{Cursor: cursor, Users: users})
}

type UserCreate struct {
	Email     string `json:"email" validate:"required,email"`
	FullName  string `json:"fullName" validate:"required,fullname"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
}

func (s *RestServer) insertUser(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	var create UserCreate
	if err := request.ReadEntity(&create); err != nil {
		BadRequest(response, err)
		return
	}
	if err := s.validate.Struct(create); err != nil {
		BadRequest(response, err)
		return
	}
	user := data.User{
		UserId:    uuid.NewString(),
		Email:     strings.ToLower(create.Email),
		FullName:  strings.TrimSpace(create.FullName),
		AvatarURL: create.AvatarURL,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.DataClient.InsertUser(request.Request.Context(), user); err != nil {
		writeError(response, err)
		return
	}
	Ok(response, user)
}

func (s *RestServer) getUser(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	userId := request.PathParameter("user-id")
	user, err := s.DataClient.GetUser(request.Request.Context(), userId)
	if err != nil {
		writeError(response, err)
		return
	}
	Ok(response, user)
}

type UserPatch struct {
	FullName  *string `json:"fullName,omitempty" validate:"omitempty,fullname"`
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	AvatarURL *string `json:"avatar_url,omitempty" validate:"omitempty,url"`
	Blocked   *bool   `json:"blocked,omitempty"`
}

func (s *RestServer) modifyUser(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	userId := request.PathParameter("user-id")
	var patch UserPatch
	if err := request.ReadEntity(&patch); err != nil {
		BadRequest(response, err)
		return
	}
	if err := s.validate.Struct(patch); err != nil {
		BadRequest(response, err)
		return
	}
	userPatch := data.UserPatch{
		FullName:  patch.FullName,
		Email:     patch.Email,
		AvatarURL: patch.AvatarURL,
		Blocked:   patch.Blocked,
	}
	if userPatch.IsEmpty() {
		BadRequest(response, errors.New("no fields to update"))
		return
	}
	if userPatch.FullName != nil {
		userPatch.FullName = lo.ToPtr(strings.TrimSpace(*userPatch.FullName))
	}
	if userPatch.Email != nil {
		userPatch.Email = lo.ToPtr(strings.ToLower(*userPatch.Email))
	}
	if err := s.DataClient.ModifyUser(request.Request.Context(), userId, userPatch); err != nil {
		writeError(response, err)
		return
	}
	Ok(response, Message{Message: "User updated successfully"})
}

func (s *RestServer) blockUser(blocked bool) restful.RouteFunction {
	return func(request *restful.Request, response *restful.Response) {
		if !s.auth(request, response) {
			return
		}
		userId := request.PathParameter("user-id")
		if err := s.DataClient.ModifyUser(request.Request.Context(), userId, data.UserPatch{Blocked: &blocked}); err != nil {
			writeError(response, err)
			return
		}
		if blocked {
			Ok(response, Message{Message: "User blocked"})
		} else {
			Ok(response, Message{Message: "User unblocked"})
		}
	}
}

func (s *RestServer) deleteUser(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	userId := request.PathParameter("user-id")
	if err := s.DataClient.DeleteUser(request.Request.Context(), userId); err != nil {
		writeError(response, err)
		return
	}
	Ok(response, Message{Message: "User deleted"})
}

type RecommenderInfo struct {
	Version int64    `json:"version"`
	Alpha   float64  `json:"alpha"`
	Users   []string `json:"users"`
	Items   []string `json:"items"`
}

func (s *RestServer) recommenderInfo() RecommenderInfo {
	return RecommenderInfo{
		Version: s.Recommender.Version(),
		Alpha:   s.Recommender.Alpha(),
		Users:   s.Recommender.Users(),
		Items:   s.Recommender.Items(),
	}
}

func (s *RestServer) getRecommender(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	Ok(response, s.recommenderInfo())
}

func (s *RestServer) reloadRecommender(request *restful.Request, response *restful.Response) {
	if !s.auth(request, response) {
		return
	}
	if s.Loader == nil {
		InternalServerError(response, errors.NotAssignedf("loader"))
		return
	}
	start := time.Now()
	if err := s.Recommender.Reload(request.Request.Context(), s.Loader); err != nil {
		InternalServerError(response, err)
		return
	}
	if s.cache != nil {
		s.cache.DeleteAll()
	}
	ReloadSeconds.Observe(time.Since(start).Seconds())
	Ok(response, s.recommenderInfo())
}

// writeError maps errors of the data store to status codes.
func writeError(response *restful.Response, err error) {
	switch {
	case errors.Is(err, errors.NotFound):
		PageNotFound(response, err)
	case errors.Is(err, errors.AlreadyExists), errors.Is(err, errors.NotValid):
		BadRequest(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("bad request", zap.Error(err))
	if err = response.WriteError(http.StatusBadRequest, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	if err = response.WriteError(http.StatusInternalServerError, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	if err := response.WriteError(http.StatusNotFound, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content interface{}) {
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) auth(request *restful.Request, response *restful.Response) bool {
	if s.Config.Server.APIKey == "" {
		return true
	}
	apikey := request.HeaderParameter(apiKeyHeader)
	if apikey == s.Config.Server.APIKey {
		return true
	}
	log.ResponseLogger(response).Error("unauthorized", zap.String("remote_addr", request.Request.RemoteAddr))
	if err := response.WriteError(http.StatusUnauthorized, errors.New("unauthorized")); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
	return false
}
